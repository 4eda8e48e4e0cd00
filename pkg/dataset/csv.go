package dataset

import (
	"bytes"
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
)

// sniffSize bounds the prefix used for delimiter detection.
const sniffSize = 64 << 10

// ReadCSV reads a delimited text table with a header row. Column types
// are inferred from the cells: int, then float, then bool, then
// timestamp, falling back to string. Empty cells are null.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data = trimBOM(data)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}
	data = normalizeLineEndings(data)

	records := splitRecords(data)
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	delim := opts.Delimiter
	if delim == 0 {
		if opts.Format == FormatTSV {
			delim = '\t'
		} else {
			sample := data
			if len(sample) > sniffSize {
				sample = sample[:sniffSize]
			}
			delim = detectDelimiter(sample)
		}
	}

	sc := newCSVScanner(delim)
	header := sc.scan(records[0])
	names := make([]string, len(header))
	for i, f := range header {
		names[i] = strings.TrimSpace(string(f))
	}

	rows := make([][][]byte, 0, len(records)-1)
	for i, rec := range records[1:] {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fields := sc.scan(rec)
		row := make([][]byte, len(fields))
		copy(row, fields)
		rows = append(rows, row)
	}

	return buildFromText(ctx, opts, uniqueNames(names), rows, false)
}

// buildFromText types and builds the columns of a text table, one column
// per task on the worker pool. serialDates lets timestamp columns accept
// Excel serial numbers.
func buildFromText(ctx context.Context, opts Options, names []string, rows [][][]byte, serialDates bool) (*Dataset, error) {
	mem := opts.allocator()
	forced := opts.forcedKinds()

	cols := make([]arrow.Array, len(names))
	p := pool.New(opts.Workers)
	err := p.ForEachRange(ctx, len(names), func(_ int, r pool.Range) error {
		for c := r.Lo; c < r.Hi; c++ {
			kind, ok := forced[names[c]]
			if !ok {
				kind = inferTextKind(rows, c)
			}
			cols[c] = buildTextColumn(mem, rows, c, kind, serialDates)
		}
		return nil
	})
	if err != nil {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
		return nil, err
	}

	rec := buildRecord(names, cols, len(rows))
	defer rec.Release()
	return FromRecord(rec), nil
}

func buildTextColumn(mem memory.Allocator, rows [][][]byte, c int, kind model.Kind, serialDates bool) arrow.Array {
	b := newColumnBuilder(mem, kind, len(rows))
	for _, row := range rows {
		var cell []byte
		if c < len(row) {
			cell = row[c]
		}
		b.append(parseCell(cell, kind, serialDates))
	}
	return b.finish()
}

// inferTextKind returns the narrowest kind all non-blank cells of column
// c parse as.
func inferTextKind(rows [][][]byte, c int) model.Kind {
	isInt, isFloat, isBool, isTime := true, true, true, true
	seen := false

	for _, row := range rows {
		if c >= len(row) {
			continue
		}
		v := pool.TrimSpaces(row[c])
		if len(v) == 0 {
			continue
		}
		seen = true

		if isInt {
			if _, err := pool.ParseInt64(v); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := pool.ParseFloat64(v); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, err := pool.ParseBool(v); err != nil {
				isBool = false
			}
		}
		if isTime {
			if !pool.LooksLikeTimestamp(v) {
				isTime = false
			} else if _, err := pool.ParseTime(v); err != nil {
				isTime = false
			}
		}
		if !isInt && !isFloat && !isBool && !isTime {
			return model.KindString
		}
	}

	switch {
	case !seen:
		return model.KindNull
	case isInt:
		return model.KindInt
	case isFloat:
		return model.KindFloat
	case isBool:
		return model.KindBool
	case isTime:
		return model.KindTimestamp
	default:
		return model.KindString
	}
}

// parseCell converts one text cell to a value of the given kind. Cells
// that do not parse become null.
func parseCell(raw []byte, kind model.Kind, serialDates bool) model.Value {
	if kind == model.KindString || kind == model.KindNull {
		if len(raw) == 0 {
			return model.Null
		}
		return model.String(string(raw))
	}

	v := pool.TrimSpaces(raw)
	if len(v) == 0 {
		return model.Null
	}

	switch kind {
	case model.KindInt:
		if n, err := pool.ParseInt64(v); err == nil {
			return model.Int(n)
		}
	case model.KindFloat:
		if f, err := pool.ParseFloat64(v); err == nil {
			return model.Float(f)
		}
	case model.KindBool:
		if b, err := pool.ParseBool(v); err == nil {
			return model.Bool(b)
		}
	case model.KindTimestamp:
		if t, err := pool.ParseTime(v); err == nil {
			return model.Timestamp(t)
		}
		if serialDates {
			if f, err := pool.ParseFloat64(v); err == nil && f > 0 {
				return model.Timestamp(pool.ExcelSerialTime(f))
			}
		}
	}
	return model.Null
}
