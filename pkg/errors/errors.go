// Package errors provides structured errors for dfgflow.
// Every fatal error carries a code, a message, key/value context and the
// stack frames at the point it was created.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound     Code = "E101"
	CodeInvalidFormat    Code = "E103"
	CodeMissingColumn    Code = "E104"
	CodeInvalidTimestamp Code = "E105"

	// Processing errors (2xx)
	CodeParseFailed Code = "E201"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"

	// Configuration errors (6xx)
	CodeInvalidConfig Code = "E601"

	// Rendering errors (7xx)
	CodeEngineUnavailable Code = "E701"
	CodeRenderFailed      Code = "E702"

	// Back-end errors (8xx)
	CodeCache   Code = "E801"
	CodeStorage Code = "E802"

	// Unknown
	CodeUnknown Code = "E999"
)

// DFGError is the base error type for all dfgflow errors.
type DFGError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]any
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed in
// sorted order.
func (e *DFGError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *DFGError) Unwrap() error {
	return e.Cause
}

// Is matches another *DFGError with the same code.
func (e *DFGError) Is(target error) bool {
	if t, ok := target.(*DFGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds a key/value pair to the error.
func (e *DFGError) WithContext(key string, value any) *DFGError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new DFGError.
func New(code Code, message string) *DFGError {
	return &DFGError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new DFGError with a formatted message.
func Newf(code Code, format string, args ...any) *DFGError {
	return &DFGError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *DFGError {
	if err == nil {
		return nil
	}

	return &DFGError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *DFGError {
	if err == nil {
		return nil
	}

	return &DFGError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *DFGError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		fmt.Fprintf(&sb, "  at %s\n    %s:%d\n", f.Function, f.File, f.Line)
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *DFGError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingColumn creates a missing column error.
func MissingColumn(column string, available []string) *DFGError {
	return New(CodeMissingColumn, "required column not found").
		WithContext("column", column).
		WithContext("available", available)
}

// InvalidConfig creates a configuration error for one field.
func InvalidConfig(field string, value any, reason string) *DFGError {
	return New(CodeInvalidConfig, reason).
		WithContext("field", field).
		WithContext("value", value)
}

// ParseError creates a parsing error with location.
func ParseError(format string, row int, err error) *DFGError {
	return Wrap(err, CodeParseFailed, "parse error").
		WithContext("format", format).
		WithContext("row", row)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *DFGError {
	return &DFGError{
		Code:       CodeContextCanceled,
		Message:    "operation canceled",
		Cause:      cause,
		Context:    map[string]any{"operation": operation},
		StackTrace: captureStack(2),
	}
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var dErr *DFGError
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var dErr *DFGError
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return CodeUnknown
}

// IsFatal reports whether err must abort a discovery run. Malformed
// individual values are tolerated; everything structural is not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeInvalidTimestamp:
		return false
	default:
		return true
	}
}

// IsConfig reports whether err stems from the caller's configuration or
// input schema rather than from the environment.
func IsConfig(err error) bool {
	switch GetCode(err) {
	case CodeInvalidConfig, CodeMissingColumn, CodeInvalidFormat, CodeParseFailed:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:\n", len(m.Errors))
	for i, err := range m.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
