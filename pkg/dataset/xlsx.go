package dataset

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads one sheet of an Excel workbook. The first row is the
// header. Timestamp columns accept both formatted dates and Excel serial
// numbers.
func ReadXLSX(ctx context.Context, r io.Reader, opts Options) (*Dataset, error) {
	xlFile, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer xlFile.Close()

	sheetName := opts.Sheet
	if sheetName == "" {
		sheetName = xlFile.GetSheetName(0)
	}
	if sheetName == "" {
		sheetList := xlFile.GetSheetList()
		if len(sheetList) == 0 {
			return nil, fmt.Errorf("%w: no sheets found in xlsx file", ErrEmptyInput)
		}
		sheetName = sheetList[0]
	}

	rows, err := xlFile.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet %q: %w", sheetName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrEmptyInput, sheetName)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
	}

	var table [][][]byte
	for rows.Next() {
		if len(table)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(table)+2, err)
		}
		if isBlankRow(cols) {
			continue
		}

		row := make([][]byte, len(cols))
		for i, v := range cols {
			if v != "" {
				row[i] = []byte(v)
			}
		}
		table = append(table, row)
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}

	return buildFromText(ctx, opts, uniqueNames(names), table, true)
}

func isBlankRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
