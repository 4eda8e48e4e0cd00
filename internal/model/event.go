// Package model defines core data structures for dfgflow.
package model

import (
	"strconv"
	"time"
)

// Canonical XES attribute keys.
const (
	// CaseKey is the default case identifier column.
	CaseKey = "case:concept:name"

	// ActivityKey is the default activity label column. It doubles as
	// the trace-level "name" attribute holding the case id.
	ActivityKey = "concept:name"

	// TimestampKey is the default event timestamp column.
	TimestampKey = "time:timestamp"
)

// NotAString is the label used for activities whose value is not text.
const NotAString = "NOT A STRING"

// ActivityLabel returns the text of an activity value, or NotAString
// for nulls and non-text values.
func ActivityLabel(v Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return NotAString
}

// Kind indicates the semantic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTimestamp
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	default:
		return "null"
	}
}

// Value is a typed attribute value read from a dataset cell.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
}

// Null is the zero Value.
var Null = Value{}

// String returns a text Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Timestamp returns a date-time Value.
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t} }

// IsNull reports whether the value is missing.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsString returns the text payload and whether v is textual.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsTime returns the timestamp payload and whether v is a timestamp.
func (v Value) AsTime() (time.Time, bool) {
	if v.Kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.Time, true
}

// Text renders the value for grouping keys and display.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Event maps attribute names to values. An event is owned by exactly one Trace.
type Event map[string]Value

// Get returns the attribute value, or Null when absent.
func (e Event) Get(key string) Value {
	if v, ok := e[key]; ok {
		return v
	}
	return Null
}

// Trace is one process instance: the events sharing a case identifier,
// in source order.
type Trace struct {
	// CaseID is the textual case identifier.
	CaseID string

	// Attributes holds trace-level attributes. The case id is stored
	// under ActivityKey, mirroring the XES trace name.
	Attributes map[string]Value

	// Events are ordered as presented by the source dataset.
	Events []Event
}

// Len returns the number of events in the trace.
func (t *Trace) Len() int {
	return len(t.Events)
}

// First returns the first event, or nil for an empty trace.
func (t *Trace) First() Event {
	if len(t.Events) == 0 {
		return nil
	}
	return t.Events[0]
}

// Last returns the last event, or nil for an empty trace.
func (t *Trace) Last() Event {
	if len(t.Events) == 0 {
		return nil
	}
	return t.Events[len(t.Events)-1]
}

// EventLog is the set of traces built from one dataset.
type EventLog struct {
	// Traces are ordered by the row index of each case's first event.
	Traces []*Trace

	// Activities is the distinct activity vocabulary of the source
	// dataset, sorted.
	Activities []string

	// ActivityKey and TimestampKey name the event attributes the
	// discovery stages read.
	ActivityKey  string
	TimestampKey string
}

// NumEvents returns the total number of events across all traces.
func (l *EventLog) NumEvents() int {
	n := 0
	for _, t := range l.Traces {
		n += len(t.Events)
	}
	return n
}
