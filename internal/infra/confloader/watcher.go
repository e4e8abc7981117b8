package confloader

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to one configuration file.
type Watcher struct {
	fs     *fsnotify.Watcher
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	callbacks []func(path string)
	stopOnce  sync.Once
}

// NewWatcher watches path. Its directory is watched so that editors that
// replace the file by rename are noticed.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{fs: fs, path: abs, logger: logger.With("component", "confwatch")}, nil
}

// OnChange registers a callback run after each write to the file.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Run dispatches file events until ctx ends or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Debug("watching configuration", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if abs, _ := filepath.Abs(ev.Name); abs != w.path {
				continue
			}
			w.logger.Info("configuration changed", "path", w.path, "op", ev.Op.String())
			w.notify()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) notify() {
	w.mu.Lock()
	callbacks := append([]func(string)(nil), w.callbacks...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(w.path)
	}
}

// Stop releases the watcher. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() { err = w.fs.Close() })
	return err
}
