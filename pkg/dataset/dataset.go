// Package dataset provides the typed, column-oriented table that event
// logs are read from. Tables are backed by Apache Arrow and can be loaded
// from CSV, Parquet, XLSX, DuckDB queries or PostgreSQL queries.
package dataset

import (
	"sort"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"

	"github.com/logflow/dfgflow/internal/model"
)

// Dataset is an immutable table of typed columns. Call Release when done.
type Dataset struct {
	table   arrow.Table
	columns []*Column
	index   map[string]int
}

// Column is one named, typed column of a Dataset. Rows are addressed by
// their global index; chunk boundaries are hidden.
type Column struct {
	name    string
	kind    model.Kind
	chunks  []arrow.Array
	offsets []int // offsets[i] is the first global row of chunks[i]
	length  int
}

// FromTable wraps an Arrow table. The dataset takes its own reference.
func FromTable(table arrow.Table) *Dataset {
	table.Retain()

	schema := table.Schema()
	d := &Dataset{
		table:   table,
		columns: make([]*Column, table.NumCols()),
		index:   make(map[string]int, table.NumCols()),
	}

	for i := 0; i < int(table.NumCols()); i++ {
		field := schema.Field(i)
		col := &Column{
			name: field.Name,
			kind: kindOf(field.Type),
		}
		for _, chunk := range table.Column(i).Data().Chunks() {
			if chunk.Len() == 0 {
				continue
			}
			col.offsets = append(col.offsets, col.length)
			col.chunks = append(col.chunks, chunk)
			col.length += chunk.Len()
		}
		d.columns[i] = col
		if _, dup := d.index[field.Name]; !dup {
			d.index[field.Name] = i
		}
	}

	return d
}

// FromRecord wraps a single record batch.
func FromRecord(rec arrow.Record) *Dataset {
	table := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer table.Release()
	return FromTable(table)
}

// Release frees the underlying Arrow memory.
func (d *Dataset) Release() {
	if d.table != nil {
		d.table.Release()
		d.table = nil
	}
}

// Schema returns the Arrow schema.
func (d *Dataset) Schema() *arrow.Schema {
	return d.table.Schema()
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int {
	return int(d.table.NumRows())
}

// NumCols returns the number of columns.
func (d *Dataset) NumCols() int {
	return len(d.columns)
}

// ColumnNames returns the column names in schema order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.name
	}
	return names
}

// Column returns the column with the given name.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// ColumnAt returns the i-th column.
func (d *Dataset) ColumnAt(i int) *Column {
	return d.columns[i]
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the value kind every non-null cell has.
func (c *Column) Kind() model.Kind { return c.kind }

// Len returns the number of rows.
func (c *Column) Len() int { return c.length }

// Value returns the cell at the given global row.
func (c *Column) Value(row int) model.Value {
	chunk, local := c.locate(row)
	if chunk == nil {
		return model.Null
	}
	return valueAt(chunk, local)
}

// Text returns the cell rendered as text, or "" for null.
func (c *Column) Text(row int) string {
	return c.Value(row).Text()
}

func (c *Column) locate(row int) (arrow.Array, int) {
	if row < 0 || row >= c.length {
		return nil, 0
	}
	if len(c.chunks) == 1 {
		return c.chunks[0], row
	}
	i := sort.Search(len(c.offsets), func(i int) bool { return c.offsets[i] > row }) - 1
	return c.chunks[i], row - c.offsets[i]
}

// kindOf maps an Arrow type to the value kind it decodes to.
func kindOf(dt arrow.DataType) model.Kind {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY:
		return model.KindString
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return model.KindInt
	case arrow.FLOAT32, arrow.FLOAT64:
		return model.KindFloat
	case arrow.BOOL:
		return model.KindBool
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return model.KindTimestamp
	case arrow.DICTIONARY:
		return kindOf(dt.(*arrow.DictionaryType).ValueType)
	case arrow.NULL:
		return model.KindNull
	default:
		return model.KindString
	}
}

// valueAt decodes one cell of an Arrow array.
func valueAt(arr arrow.Array, i int) model.Value {
	if arr.IsNull(i) {
		return model.Null
	}

	switch a := arr.(type) {
	case *array.String:
		return model.String(a.Value(i))
	case *array.LargeString:
		return model.String(a.Value(i))
	case *array.Binary:
		return model.String(string(a.Value(i)))
	case *array.Int64:
		return model.Int(a.Value(i))
	case *array.Int32:
		return model.Int(int64(a.Value(i)))
	case *array.Int16:
		return model.Int(int64(a.Value(i)))
	case *array.Int8:
		return model.Int(int64(a.Value(i)))
	case *array.Uint64:
		return model.Int(int64(a.Value(i)))
	case *array.Uint32:
		return model.Int(int64(a.Value(i)))
	case *array.Uint16:
		return model.Int(int64(a.Value(i)))
	case *array.Uint8:
		return model.Int(int64(a.Value(i)))
	case *array.Float64:
		return model.Float(a.Value(i))
	case *array.Float32:
		return model.Float(float64(a.Value(i)))
	case *array.Boolean:
		return model.Bool(a.Value(i))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return model.Timestamp(unixTime(int64(a.Value(i)), unit))
	case *array.Date32:
		return model.Timestamp(time.Unix(int64(a.Value(i))*86400, 0).UTC())
	case *array.Date64:
		return model.Timestamp(time.UnixMilli(int64(a.Value(i))).UTC())
	case *array.Dictionary:
		return valueAt(a.Dictionary(), a.GetValueIndex(i))
	case *array.Null:
		return model.Null
	default:
		return model.String(arr.ValueStr(i))
	}
}

func unixTime(v int64, unit arrow.TimeUnit) time.Time {
	switch unit {
	case arrow.Second:
		return time.Unix(v, 0).UTC()
	case arrow.Millisecond:
		return time.UnixMilli(v).UTC()
	case arrow.Microsecond:
		return time.UnixMicro(v).UTC()
	default:
		return time.Unix(0, v).UTC()
	}
}
