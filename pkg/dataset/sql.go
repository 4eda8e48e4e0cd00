package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/logflow/dfgflow/internal/model"
)

// QueryDuckDB runs opts.Query in DuckDB and loads the result. location
// is either a DuckDB database file, which requires a query, or any file
// DuckDB can scan (CSV, JSON, Parquet), which is read whole when no query
// is given.
func QueryDuckDB(ctx context.Context, location string, opts Options) (*Dataset, error) {
	dsn := ""
	query := opts.Query

	switch strings.ToLower(filepath.Ext(location)) {
	case ".duckdb", ".db":
		dsn = location
		if query == "" {
			return nil, ErrNoQuery
		}
	default:
		if query == "" {
			query = fmt.Sprintf("SELECT * FROM '%s'", strings.ReplaceAll(location, "'", "''"))
		}
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var table [][]model.Value
	raw := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		table = append(table, toValues(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fromRows(opts.allocator(), uniqueNames(names), table, opts.forcedKinds())
}

// QueryPostgres runs opts.Query against the PostgreSQL database at dsn.
func QueryPostgres(ctx context.Context, dsn string, opts Options) (*Dataset, error) {
	if opts.Query == "" {
		return nil, ErrNoQuery
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}

	var table [][]model.Value
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		table = append(table, toValues(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return fromRows(opts.allocator(), uniqueNames(names), table, opts.forcedKinds())
}

// toValues converts driver values into model values.
func toValues(raw []any) []model.Value {
	out := make([]model.Value, len(raw))
	for i, v := range raw {
		out[i] = toValue(v)
	}
	return out
}

func toValue(v any) model.Value {
	switch x := v.(type) {
	case nil:
		return model.Null
	case string:
		return model.String(x)
	case []byte:
		return model.String(string(x))
	case int64:
		return model.Int(x)
	case int32:
		return model.Int(int64(x))
	case int16:
		return model.Int(int64(x))
	case int8:
		return model.Int(int64(x))
	case int:
		return model.Int(int64(x))
	case uint64:
		return model.Int(int64(x))
	case uint32:
		return model.Int(int64(x))
	case uint16:
		return model.Int(int64(x))
	case uint8:
		return model.Int(int64(x))
	case float64:
		return model.Float(x)
	case float32:
		return model.Float(float64(x))
	case bool:
		return model.Bool(x)
	case time.Time:
		return model.Timestamp(x.UTC())
	default:
		return model.String(fmt.Sprint(x))
	}
}
