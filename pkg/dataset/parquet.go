package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

type readerAtSeeker interface {
	io.ReaderAt
	io.Seeker
}

// ReadParquetFile reads a Parquet file into memory.
func ReadParquetFile(ctx context.Context, path string, opts Options) (*Dataset, error) {
	pqReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, err
	}
	defer pqReader.Close()

	return readParquet(ctx, pqReader, opts)
}

// ReadParquet reads Parquet content from a stream. Streams that cannot
// seek are buffered in memory first.
func ReadParquet(ctx context.Context, r io.Reader, opts Options) (*Dataset, error) {
	ras, ok := r.(readerAtSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		ras = bytes.NewReader(data)
	}

	pqReader, err := file.NewParquetReader(ras)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	return readParquet(ctx, pqReader, opts)
}

func readParquet(ctx context.Context, pqReader *file.Reader, opts Options) (*Dataset, error) {
	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		Parallel: true,
	}, opts.allocator())
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet table: %w", err)
	}
	defer table.Release()

	return applyForced(opts.allocator(), FromTable(table), opts.forcedKinds()), nil
}
