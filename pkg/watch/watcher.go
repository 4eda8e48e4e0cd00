// Package watch re-runs discovery when an event log changes on disk.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// DefaultDebounce is how long a file must be quiet before a change fires.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled change of a watched file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors files and calls a Handler after each change settles.
// Changes arriving while the handler runs are folded into one more call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger

	mu       sync.Mutex
	files    map[string]*fileState
	stopped  bool
	inflight sync.WaitGroup

	// OnError receives handler and watcher failures. The loop keeps going.
	OnError func(path string, err error)
}

type fileState struct {
	modTime time.Time
	size    int64
	timer   *time.Timer
	running bool
	pending bool
}

// New creates a watcher that calls handler for changed files. A zero
// debounce means DefaultDebounce.
func New(handler Handler, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeStorage, "create file watcher")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:  fsWatcher,
		debounce: debounce,
		handler:  handler,
		logger:   logger,
		files:    make(map[string]*fileState),
	}, nil
}

// Watch adds path to the watched set. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return dfgerr.Wrapf(err, dfgerr.CodeFileNotFound, "resolve %s", path)
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return dfgerr.FileNotFound(path)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{modTime: stat.ModTime(), size: stat.Size()}
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return dfgerr.Wrapf(err, dfgerr.CodeStorage, "watch %s", filepath.Dir(absPath))
	}
	return nil
}

// Run processes file events until ctx is canceled. It returns once every
// handler call it started has finished.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.schedule(ctx, absPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)
		}
	}
}

// schedule restarts the debounce timer of a watched file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.files[path]
	if !ok {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx, path) })
}

func (w *Watcher) fire(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	state := w.files[path]
	if state.running {
		state.pending = true
		w.mu.Unlock()
		return
	}
	stat, err := os.Stat(path)
	if err != nil {
		// Mid-replace; the create event reschedules.
		w.mu.Unlock()
		return
	}
	if stat.ModTime().Equal(state.modTime) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	state.modTime = stat.ModTime()
	state.size = stat.Size()
	state.running = true
	w.inflight.Add(1)
	w.mu.Unlock()

	w.logger.Info("change detected", "path", path, "size", stat.Size())
	if err := w.handler(ctx, path); err != nil {
		w.reportError(path, err)
	}

	w.mu.Lock()
	state.running = false
	again := state.pending
	state.pending = false
	w.mu.Unlock()
	w.inflight.Done()

	if again {
		w.fire(ctx, path)
	}
}

func (w *Watcher) reportError(path string, err error) {
	w.logger.Warn("watch error", "path", path, "error", err)
	if w.OnError != nil {
		w.OnError(path, err)
	}
}

// shutdown stops pending timers and waits for running handlers. No
// handler starts once stopped is set.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.stopped = true
	for _, state := range w.files {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
	w.mu.Unlock()

	w.inflight.Wait()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
