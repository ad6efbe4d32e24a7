// Package watch re-runs a callback whenever a query file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scalaris-go/kvquery/internal/debug"
)

// DefaultDebounce is how long the watcher waits after the last write
// before running the callback.
const DefaultDebounce = 500 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithErrorHandler receives callback and watcher errors. The default logs
// them.
func WithErrorHandler(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// Watcher watches a file for changes
type Watcher struct {
	file     string
	callback func(ctx context.Context) error
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onError  func(error)
	log      *slog.Logger
}

// NewWatcher creates a watcher for file. The directory holding the file is
// watched so that editors replacing the file are still seen.
func NewWatcher(file string, callback func(ctx context.Context) error, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		file:     absPath,
		callback: callback,
		watcher:  watcher,
		debounce: DefaultDebounce,
		log:      debug.Component("watch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.onError == nil {
		w.onError = func(err error) { w.log.Error("watch failed", "file", w.file, "error", err) }
	}
	return w, nil
}

// Run calls the callback once, then again after every debounced change,
// until ctx is done. An error from the first call is returned; later
// errors go to the error handler.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.callback(ctx); err != nil {
		return fmt.Errorf("initial run failed: %w", err)
	}

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil || eventPath != w.file {
				continue
			}
			debounceTimer.Reset(w.debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			w.log.Debug("file changed", "file", w.file)
			if err := w.callback(ctx); err != nil {
				w.onError(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.onError(err)

		case <-ctx.Done():
			return nil
		}
	}
}
