package dataset

import "errors"

var (
	// ErrUnsupportedFormat is returned when the input format is not supported.
	ErrUnsupportedFormat = errors.New("dataset: unsupported format")

	// ErrEmptyInput is returned when a source has no header row.
	ErrEmptyInput = errors.New("dataset: empty input")

	// ErrRaggedRow is returned when a row has more values than the header.
	ErrRaggedRow = errors.New("dataset: row wider than header")

	// ErrNoQuery is returned when a SQL source is opened without a query.
	ErrNoQuery = errors.New("dataset: query required")
)
