package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeMissingColumn, "required column not found").
		WithContext("column", "case").
		WithContext("available", []string{"a", "b"})

	want := "[E104] required column not found (available=[a b], column=case)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapChain(t *testing.T) {
	if Wrap(nil, CodeCache, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, CodeCache, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}

	base := fmt.Errorf("connection refused")
	err := fmt.Errorf("outer: %w", Wrapf(base, CodeCache, "redis %s", "get"))

	if !IsCode(err, CodeCache) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if GetCode(err) != CodeCache {
		t.Errorf("GetCode = %s", GetCode(err))
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should reach the cause")
	}
	if !errors.Is(err, New(CodeCache, "")) {
		t.Error("errors.Is should match on code")
	}
	if !strings.Contains(err.Error(), "redis get: connection refused") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestStackCaptured(t *testing.T) {
	err := New(CodeRenderFailed, "boom")
	if len(err.StackTrace) == 0 {
		t.Fatal("expected stack frames")
	}
	if !strings.Contains(err.StackTrace[0].Function, "TestStackCaptured") {
		t.Errorf("top frame = %s", err.StackTrace[0].Function)
	}
	if !strings.Contains(err.FormatStack(), "errors_test.go") {
		t.Error("FormatStack should include the file")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err    error
		fatal  bool
		config bool
	}{
		{nil, false, false},
		{New(CodeInvalidTimestamp, "x"), false, false},
		{MissingColumn("c", nil), true, true},
		{InvalidConfig("discovery.max_edges", 0, "must be positive"), true, true},
		{New(CodeEngineUnavailable, "x"), true, false},
		{errors.New("plain"), true, false},
	}
	for i, tt := range tests {
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("%d: IsFatal = %v, want %v", i, got, tt.fatal)
		}
		if got := IsConfig(tt.err); got != tt.config {
			t.Errorf("%d: IsConfig = %v, want %v", i, got, tt.config)
		}
	}
}

func TestContextCanceled(t *testing.T) {
	err := ContextCanceled("aggregate", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("cause should be context.Canceled")
	}
	if GetCode(err) != CodeContextCanceled {
		t.Errorf("code = %s", GetCode(err))
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}
	m.Add(nil)
	first := New(CodeStorage, "a")
	m.Add(first)
	if m.Combined() != first {
		t.Error("single error should be returned as-is")
	}
	m.Add(New(CodeCache, "b"))
	if !m.HasErrors() || len(m.Errors) != 2 {
		t.Fatalf("errors = %v", m.Errors)
	}
	if !IsCode(m.Combined(), CodeStorage) {
		t.Error("errors.As should find the first DFGError")
	}
	if !strings.HasPrefix(m.Error(), "2 errors occurred") {
		t.Errorf("Error() = %q", m.Error())
	}
}
