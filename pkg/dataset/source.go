package dataset

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/logflow/dfgflow/internal/model"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Options controls how a source is read.
type Options struct {
	// Format selects the reader. FormatAuto detects it from the location.
	Format Format

	// Delimiter for CSV input. Zero detects it.
	Delimiter byte

	// TimeColumns are read as timestamps regardless of inference.
	// Cells that fail to parse become null.
	TimeColumns []string

	// StringColumns are read as text regardless of inference.
	StringColumns []string

	// Sheet selects the XLSX sheet. Empty means the first sheet.
	Sheet string

	// Query is the SQL statement for DuckDB and PostgreSQL sources.
	Query string

	// Workers bounds column-parallel work. Zero means NumCPU.
	Workers int

	// Allocator for Arrow buffers. Nil means memory.DefaultAllocator.
	Allocator memory.Allocator
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

func (o Options) forcedKinds() map[string]model.Kind {
	forced := make(map[string]model.Kind, len(o.TimeColumns)+len(o.StringColumns))
	for _, c := range o.TimeColumns {
		forced[c] = model.KindTimestamp
	}
	for _, c := range o.StringColumns {
		forced[c] = model.KindString
	}
	return forced
}

// Open loads a dataset from a local path or a PostgreSQL URL.
func Open(ctx context.Context, location string, opts Options) (*Dataset, error) {
	format := opts.Format
	if format == FormatAuto {
		format = DetectFormat(location, sniff(location))
		opts.Format = format
	}

	var (
		d   *Dataset
		err error
	)
	switch format {
	case FormatCSV, FormatTSV:
		d, err = readFile(ctx, location, opts, ReadCSV)
	case FormatParquet:
		d, err = ReadParquetFile(ctx, location, opts)
	case FormatXLSX:
		d, err = readFile(ctx, location, opts, ReadXLSX)
	case FormatDuckDB:
		d, err = QueryDuckDB(ctx, location, opts)
	case FormatPostgres:
		d, err = QueryPostgres(ctx, location, opts)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, classify(err, location, format)
	}
	return d, nil
}

// Read loads a dataset from a stream. SQL formats are not supported.
func Read(ctx context.Context, r io.Reader, opts Options) (*Dataset, error) {
	var (
		d   *Dataset
		err error
	)
	switch opts.Format {
	case FormatAuto, FormatCSV, FormatTSV:
		d, err = ReadCSV(ctx, r, opts)
	case FormatParquet:
		d, err = ReadParquet(ctx, r, opts)
	case FormatXLSX:
		d, err = ReadXLSX(ctx, r, opts)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, classify(err, "stream", opts.Format)
	}
	return d, nil
}

func readFile(ctx context.Context, path string, opts Options, read func(context.Context, io.Reader, Options) (*Dataset, error)) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(ctx, f, opts)
}

// sniff returns the first bytes of a local file, or nil.
func sniff(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, _ := io.ReadFull(f, buf)
	return buf[:n]
}

// classify maps reader errors onto the dfgflow error taxonomy.
func classify(err error, location string, format Format) error {
	var dErr *dfgerr.DFGError
	switch {
	case errors.As(err, &dErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dfgerr.ContextCanceled("read dataset", err)
	case os.IsNotExist(err):
		return dfgerr.FileNotFound(location)
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrEmptyInput), errors.Is(err, ErrNoQuery):
		return dfgerr.Wrap(err, dfgerr.CodeInvalidFormat, "cannot read dataset").
			WithContext("source", location).
			WithContext("format", string(format))
	default:
		return dfgerr.Wrap(err, dfgerr.CodeParseFailed, "cannot read dataset").
			WithContext("source", location).
			WithContext("format", string(format))
	}
}
