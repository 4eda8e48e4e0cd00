package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logflow/dfgflow/internal/logging"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

func startWatcher(t *testing.T, path string, handler Handler) (*Watcher, context.CancelFunc) {
	t.Helper()
	w, err := New(handler, 20*time.Millisecond, logging.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_FiresOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	startWatcher(t, path, func(ctx context.Context, p string) error {
		calls.Add(1)
		return nil
	})

	if err := os.WriteFile(path, []byte("a\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() >= 1 })
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")
	if err := os.WriteFile(path, []byte("a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	startWatcher(t, path, func(ctx context.Context, p string) error {
		calls.Add(1)
		return nil
	})

	if err := os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for an unwatched file", n)
	}
}

func TestWatcher_ReportsHandlerErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var reported atomic.Int32
	w, err := New(func(ctx context.Context, p string) error {
		return errors.New("boom")
	}, 20*time.Millisecond, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.OnError = func(string, error) { reported.Add(1) }
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return reported.Load() >= 1 })
}

func TestWatcher_RunWaitsForRunningHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("a\n"), 0644); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	var once atomic.Bool
	var finished atomic.Bool
	w, err := New(func(ctx context.Context, p string) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}, 20*time.Millisecond, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(path, []byte("a\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if !finished.Load() {
		t.Error("Run returned while a handler was still running")
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	w, err := New(func(context.Context, string) error { return nil }, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	err = w.Watch(filepath.Join(t.TempDir(), "missing.csv"))
	if !dfgerr.IsCode(err, dfgerr.CodeFileNotFound) {
		t.Errorf("Watch(missing) = %v, want E101", err)
	}
}
