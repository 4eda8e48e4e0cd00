package dataset

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
)

// Format identifies a dataset source format.
type Format string

const (
	FormatAuto     Format = ""
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatParquet  Format = "parquet"
	FormatXLSX     Format = "xlsx"
	FormatDuckDB   Format = "duckdb"
	FormatPostgres Format = "postgres"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "csv", "txt":
		return FormatCSV, nil
	case "tsv", "tab":
		return FormatTSV, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "duckdb", "sql":
		return FormatDuckDB, nil
	case "postgres", "postgresql", "pg":
		return FormatPostgres, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// DetectFormat identifies the format from the location and, when the
// extension is not conclusive, from the first bytes of the content.
func DetectFormat(location string, sample []byte) Format {
	if strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://") {
		return FormatPostgres
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	case ".parquet", ".pq":
		return FormatParquet
	case ".xlsx":
		return FormatXLSX
	case ".duckdb", ".db", ".json", ".jsonl", ".ndjson":
		return FormatDuckDB
	}

	// Magic bytes
	if len(sample) >= 4 {
		if bytes.HasPrefix(sample, []byte("PAR1")) {
			return FormatParquet
		}
		// XLSX is a zip archive
		if sample[0] == 0x50 && sample[1] == 0x4B {
			return FormatXLSX
		}
	}

	if detectDelimiter(sample) == '\t' {
		return FormatTSV
	}
	return FormatCSV
}

// detectDelimiter picks the candidate whose per-line count is most
// consistent relative to its frequency.
func detectDelimiter(sample []byte) byte {
	candidates := []byte{',', '\t', ';', '|'}

	best := byte(',')
	bestScore := math.MaxFloat64
	for _, delim := range candidates {
		counts := countDelimiterPerLine(sample, delim)
		if len(counts) == 0 {
			continue
		}
		avg := mean(counts)
		if avg < 1 {
			continue
		}
		score := variance(counts) / avg
		if score < bestScore {
			bestScore = score
			best = delim
		}
	}
	return best
}

// countDelimiterPerLine counts delimiter occurrences per line, ignoring
// delimiters inside quotes. A final line without a newline is counted.
func countDelimiterPerLine(sample []byte, delim byte) []int {
	var counts []int
	inQuote := false
	count := 0
	pending := false

	for _, b := range sample {
		switch {
		case b == '"':
			inQuote = !inQuote
			pending = true
		case inQuote:
		case b == delim:
			count++
			pending = true
		case b == '\n':
			counts = append(counts, count)
			count = 0
			pending = false
		default:
			pending = true
		}
	}
	if pending {
		counts = append(counts, count)
	}

	return counts
}

func mean(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func variance(xs []int) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := float64(x) - m
		sum += d * d
	}
	return sum / float64(len(xs))
}
