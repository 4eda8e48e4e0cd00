package pool

import (
	"time"
)

// Common timestamp layouts ordered by likelihood
var commonLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00", // ISO 8601 with millis
	"2006-01-02T15:04:05Z07:00",     // ISO 8601
	"2006-01-02T15:04:05",           // ISO 8601 local
	"2006-01-02 15:04:05.000",       // Space separator with millis
	"2006-01-02 15:04:05",           // Space separator
	"2006-01-02",                    // Date only
	"02/01/2006 15:04:05",           // DD/MM/YYYY
	"01/02/2006 15:04:05",           // MM/DD/YYYY
	"2006/01/02 15:04:05",           // YYYY/MM/DD
	"02/01/2006",
	"2006/01/02",
	time.RFC3339Nano,
	time.RFC1123Z,
}

// ParseTime parses a timestamp byte slice. ISO 8601 values take a
// byte-arithmetic fast path; everything else is tried against
// commonLayouts. Values without a zone are read as UTC.
func ParseTime(b []byte) (time.Time, error) {
	b = TrimSpaces(b)
	if len(b) == 0 {
		return time.Time{}, ErrInvalidTimestamp
	}

	if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
		if t, err := parseISO8601Fast(b); err == nil {
			return t, nil
		}
	}

	s := BytesToString(b)
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// LooksLikeTimestamp reports whether b has the shape of a calendar date
// (digits with '-' or '/' separators). Bare numbers are rejected so that
// integer columns are never inferred as timestamps.
func LooksLikeTimestamp(b []byte) bool {
	b = TrimSpaces(b)
	if len(b) < 8 {
		return false
	}
	head := b
	if len(head) > 10 {
		head = head[:10]
	}
	seps := 0
	for _, c := range head {
		switch {
		case c == '-' || c == '/':
			seps++
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return seps == 2
}

// parseISO8601Fast parses ISO 8601 format using direct byte arithmetic.
func parseISO8601Fast(b []byte) (time.Time, error) {
	year := parseInt4(b[0:4])
	month := parseInt2(b[5:7])
	day := parseInt2(b[8:10])

	if year < 0 || month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) {
		return time.Time{}, ErrInvalidTimestamp
	}

	var hour, minute, second, nsec int
	loc := time.UTC

	if len(b) > 10 {
		if b[10] != 'T' && b[10] != ' ' {
			return time.Time{}, ErrInvalidTimestamp
		}
		if len(b) < 19 || b[13] != ':' || b[16] != ':' {
			return time.Time{}, ErrInvalidTimestamp
		}
		hour = parseInt2(b[11:13])
		minute = parseInt2(b[14:16])
		second = parseInt2(b[17:19])
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 60 {
			return time.Time{}, ErrInvalidTimestamp
		}

		rest := b[19:]
		if len(rest) > 0 && rest[0] == '.' {
			end := 1
			for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
				end++
			}
			nsec = parseFraction(rest[1:end])
			rest = rest[end:]
		}

		switch {
		case len(rest) == 0:
		case len(rest) == 1 && rest[0] == 'Z':
		case rest[0] == '+' || rest[0] == '-':
			offset, ok := parseOffset(rest)
			if !ok {
				return time.Time{}, ErrInvalidTimestamp
			}
			loc = time.FixedZone("", offset)
		default:
			return time.Time{}, ErrInvalidTimestamp
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), nil
}

// daysIn returns the number of days in month m of year.
func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseOffset parses "+hh:mm", "+hhmm" or "+hh" into seconds east of UTC.
func parseOffset(b []byte) (int, bool) {
	var hours, mins int
	switch len(b) {
	case 3:
		hours = parseInt2(b[1:3])
	case 5:
		hours = parseInt2(b[1:3])
		mins = parseInt2(b[3:5])
	case 6:
		if b[3] != ':' {
			return 0, false
		}
		hours = parseInt2(b[1:3])
		mins = parseInt2(b[4:6])
	default:
		return 0, false
	}
	if hours < 0 || mins < 0 {
		return 0, false
	}
	offset := hours*3600 + mins*60
	if b[0] == '-' {
		offset = -offset
	}
	return offset, true
}

// ExcelSerialTime converts an Excel serial date (days since 1899-12-30,
// with the time of day as the fractional part) to UTC.
func ExcelSerialTime(serial float64) time.Time {
	// Excel epoch starts at 1899-12-30
	// Day 1 = 1900-01-01, but Excel incorrectly considers 1900 a leap year
	excelEpoch := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

	days := int64(serial)
	fraction := serial - float64(days)

	t := excelEpoch.AddDate(0, 0, int(days))
	if fraction > 0 {
		t = t.Add(time.Duration(fraction * 24 * float64(time.Hour)).Round(time.Millisecond))
	}
	return t
}

// parseInt4 parses a 4-digit integer, or returns -1.
func parseInt4(b []byte) int {
	if len(b) != 4 {
		return -1
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// parseInt2 parses a 2-digit integer, or returns -1.
func parseInt2(b []byte) int {
	if len(b) != 2 || b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return -1
	}
	return int(b[0]-'0')*10 + int(b[1]-'0')
}

// parseFraction parses fractional seconds to nanoseconds.
func parseFraction(b []byte) int {
	var result int64
	multiplier := int64(100000000) // Start with 10^8

	for i := 0; i < len(b) && i < 9; i++ {
		result += int64(b[i]-'0') * multiplier
		multiplier /= 10
	}

	return int(result)
}

// ErrInvalidTimestamp indicates a timestamp parsing error.
var ErrInvalidTimestamp = &TimestampError{"invalid timestamp format"}

// TimestampError represents a timestamp parsing error.
type TimestampError struct {
	msg string
}

func (e *TimestampError) Error() string {
	return e.msg
}
