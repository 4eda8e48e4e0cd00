package dataset

// scanState is the state of the CSV field state machine.
type scanState uint8

const (
	stateFieldStart scanState = iota
	stateInField
	stateInQuoted
	stateQuoteInQuoted
)

// csvScanner splits one CSV record into fields with a finite state
// machine. Unquoted fields are slices of the input; quoted fields with
// escaped quotes are copied.
type csvScanner struct {
	delimiter byte
	fields    [][]byte
}

func newCSVScanner(delimiter byte) *csvScanner {
	return &csvScanner{
		delimiter: delimiter,
		fields:    make([][]byte, 0, 16),
	}
}

// scan parses a record. The returned slice is only valid until the next
// call; callers that keep rows must copy it.
func (s *csvScanner) scan(record []byte) [][]byte {
	s.fields = s.fields[:0]
	if len(record) == 0 {
		return s.fields
	}

	state := stateFieldStart
	start, end := 0, 0
	escaped := false

	for i := 0; i <= len(record); i++ {
		atEnd := i == len(record)
		var c byte
		if !atEnd {
			c = record[i]
		}

		switch state {
		case stateFieldStart:
			switch {
			case atEnd:
				// Trailing delimiter: empty final field
				s.fields = append(s.fields, nil)
			case c == '"':
				start = i + 1
				state = stateInQuoted
			case c == s.delimiter:
				s.fields = append(s.fields, nil)
			default:
				start = i
				state = stateInField
			}

		case stateInField:
			if atEnd || c == s.delimiter {
				s.fields = append(s.fields, record[start:i])
				state = stateFieldStart
			}

		case stateInQuoted:
			if atEnd {
				// Unterminated quote: take what we have
				s.fields = append(s.fields, record[start:i])
			} else if c == '"' {
				end = i
				state = stateQuoteInQuoted
			}

		case stateQuoteInQuoted:
			switch {
			case atEnd || c == s.delimiter:
				field := record[start:end]
				if escaped {
					field = unescapeQuotes(field)
					escaped = false
				}
				s.fields = append(s.fields, field)
				state = stateFieldStart
			case c == '"':
				escaped = true
				state = stateInQuoted
			default:
				// Stray character after a closing quote; keep it in the field
				state = stateInQuoted
			}
		}
	}

	return s.fields
}

// unescapeQuotes replaces "" with " in a quoted field.
func unescapeQuotes(field []byte) []byte {
	buf := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		buf = append(buf, field[i])
		if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
			i++
		}
	}
	return buf
}

// splitRecords splits data into records at newlines outside quotes.
// Blank lines are skipped. Line endings must already be normalized.
func splitRecords(data []byte) [][]byte {
	var records [][]byte
	inQuote := false
	start := 0
	for i, c := range data {
		switch c {
		case '"':
			inQuote = !inQuote
		case '\n':
			if !inQuote {
				if i > start {
					records = append(records, data[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(data) {
		records = append(records, data[start:])
	}
	return records
}

// normalizeLineEndings rewrites \r\n and \r to \n in place.
func normalizeLineEndings(data []byte) []byte {
	needs := false
	for _, c := range data {
		if c == '\r' {
			needs = true
			break
		}
	}
	if !needs {
		return data
	}

	j := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' {
			data[j] = '\n'
			j++
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
		} else {
			data[j] = data[i]
			j++
		}
	}
	return data[:j]
}

// trimBOM drops a leading UTF-8 byte order mark.
func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
