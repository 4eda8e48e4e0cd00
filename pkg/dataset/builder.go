package dataset

import (
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
)

// arrowType returns the Arrow type a column of the given kind is stored as.
// Columns with no non-null cell are stored as strings.
func arrowType(k model.Kind) arrow.DataType {
	switch k {
	case model.KindInt:
		return arrow.PrimitiveTypes.Int64
	case model.KindFloat:
		return arrow.PrimitiveTypes.Float64
	case model.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case model.KindTimestamp:
		return arrow.FixedWidthTypes.Timestamp_ns
	default:
		return arrow.BinaryTypes.String
	}
}

// columnBuilder appends model values to an Arrow builder of a fixed kind.
// Values of another kind are coerced where lossless and stored as null
// otherwise.
type columnBuilder struct {
	kind model.Kind
	b    array.Builder
}

func newColumnBuilder(mem memory.Allocator, k model.Kind, capacity int) *columnBuilder {
	b := array.NewBuilder(mem, arrowType(k))
	if capacity > 0 {
		b.Reserve(capacity)
	}
	return &columnBuilder{kind: k, b: b}
}

func (c *columnBuilder) append(v model.Value) {
	if v.IsNull() {
		c.b.AppendNull()
		return
	}

	switch b := c.b.(type) {
	case *array.Int64Builder:
		if v.Kind == model.KindInt {
			b.Append(v.Int)
			return
		}
	case *array.Float64Builder:
		switch v.Kind {
		case model.KindFloat:
			b.Append(v.Float)
			return
		case model.KindInt:
			b.Append(float64(v.Int))
			return
		}
	case *array.BooleanBuilder:
		if v.Kind == model.KindBool {
			b.Append(v.Bool)
			return
		}
	case *array.TimestampBuilder:
		if v.Kind == model.KindTimestamp {
			b.Append(arrow.Timestamp(v.Time.UnixNano()))
			return
		}
	case *array.StringBuilder:
		b.Append(v.Text())
		return
	}
	c.b.AppendNull()
}

func (c *columnBuilder) finish() arrow.Array {
	arr := c.b.NewArray()
	c.b.Release()
	return arr
}

// buildRecord assembles finished columns into a record batch and releases
// the column arrays.
func buildRecord(names []string, cols []arrow.Array, rows int) arrow.Record {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: cols[i].DataType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, cols, int64(rows))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

// inferKind returns the narrowest kind every non-null value fits.
// Ints widen to floats; any other mix falls back to string.
func inferKind(values []model.Value) model.Kind {
	kind := model.KindNull
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		switch {
		case kind == model.KindNull:
			kind = v.Kind
		case kind == v.Kind:
		case kind == model.KindInt && v.Kind == model.KindFloat,
			kind == model.KindFloat && v.Kind == model.KindInt:
			kind = model.KindFloat
		default:
			return model.KindString
		}
	}
	return kind
}

// coerce converts v to a forced column kind. Text is parsed for
// timestamp columns; values that cannot convert become null.
func coerce(v model.Value, kind model.Kind) model.Value {
	if v.IsNull() || v.Kind == kind {
		return v
	}
	switch kind {
	case model.KindString:
		return model.String(v.Text())
	case model.KindTimestamp:
		if s, ok := v.AsString(); ok {
			if t, err := pool.ParseTime([]byte(s)); err == nil {
				return model.Timestamp(t)
			}
		}
		return model.Null
	}
	return v
}

// applyForced rebuilds d when a forced column was read with another kind.
// d is released when a new dataset is returned.
func applyForced(mem memory.Allocator, d *Dataset, forced map[string]model.Kind) *Dataset {
	stale := false
	for _, c := range d.columns {
		if k, ok := forced[c.name]; ok && k != c.kind {
			stale = true
			break
		}
	}
	if !stale {
		return d
	}

	rows := d.NumRows()
	cols := make([]arrow.Array, len(d.columns))
	for i, c := range d.columns {
		kind, ok := forced[c.name]
		if !ok {
			kind = c.kind
		}
		b := newColumnBuilder(mem, kind, rows)
		for r := 0; r < c.Len(); r++ {
			b.append(coerce(c.Value(r), kind))
		}
		cols[i] = b.finish()
	}
	names := d.ColumnNames()
	d.Release()

	rec := buildRecord(names, cols, rows)
	defer rec.Release()
	return FromRecord(rec)
}

// FromRows builds a dataset from row-major values. Each column's kind is
// inferred from its non-null cells. Rows shorter than names are padded
// with nulls.
func FromRows(names []string, rows [][]model.Value) (*Dataset, error) {
	return fromRows(memory.DefaultAllocator, uniqueNames(names), rows, nil)
}

func fromRows(mem memory.Allocator, names []string, rows [][]model.Value, forced map[string]model.Kind) (*Dataset, error) {
	for i, row := range rows {
		if len(row) > len(names) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrRaggedRow, i, len(row), len(names))
		}
	}

	cols := make([]arrow.Array, len(names))
	column := make([]model.Value, len(rows))
	for c := range names {
		for r, row := range rows {
			if c < len(row) {
				column[r] = row[c]
			} else {
				column[r] = model.Null
			}
		}
		kind, ok := forced[names[c]]
		if !ok {
			kind = inferKind(column)
		}
		b := newColumnBuilder(mem, kind, len(rows))
		for _, v := range column {
			b.append(coerce(v, kind))
		}
		cols[c] = b.finish()
	}

	rec := buildRecord(names, cols, len(rows))
	defer rec.Release()
	return FromRecord(rec), nil
}

// uniqueNames replaces blank names with column_<n> and suffixes duplicates.
func uniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}
