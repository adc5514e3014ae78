// Package watcher watches the data directory with fsnotify and triggers re-ingestion
// after changes settle.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches the top level of one directory and calls onChange once the
// eligible files in it stop changing for the debounce interval.
type Watcher struct {
	dir      string
	onChange func(ctx context.Context)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	runMu    sync.Mutex // serialises onChange calls
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (file events, triggered runs).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long the directory must stay quiet before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for dir. onChange runs on its own goroutine, never
// concurrently with itself.
func NewWatcher(dir string, onChange func(ctx context.Context), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	info, err := os.Stat(w.dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", models.ErrDirectoryNotFound, w.dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher starting", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !relevant(w.dir, ev) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	w.schedule()
}

// relevant reports whether ev can change the set of ingested files: a create, write,
// remove or rename of a PDF or JSON file directly inside dir.
func relevant(dir string, ev fsnotify.Event) bool {
	if filepath.Dir(filepath.Clean(ev.Name)) != dir {
		return false
	}
	if _, ok := models.KindForPath(ev.Name); !ok {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	ctx := w.ctx
	w.timer = time.AfterFunc(w.debounce, func() {
		w.runMu.Lock()
		defer w.runMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("watcher triggering re-ingest (debounced)", zap.String("dir", w.dir))
		if w.onChange != nil {
			w.onChange(ctx)
		}
	})
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Stop stops the watcher and releases resources. A pending run is cancelled.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
