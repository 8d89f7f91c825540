package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a configuration file and swaps reloaded snapshots into a
// Store. Rapid write bursts (editor save patterns, atomic rename chains) are
// debounced into a single reload.
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the given config file.
// A zero debounce defaults to 100ms.
func NewWatcher(path string, store *Store, debounce time.Duration) *Watcher {
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		path:     path,
		store:    store,
		debounce: debounce,
		logger:   slog.Default().With("component", "config.watcher"),
	}
}

// Start begins watching. It returns once the underlying watcher is
// established; reloads happen on a background goroutine until Stop or
// context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, not the file: atomic replace (write-temp-then-
	// rename) would otherwise detach the watch.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(ctx, fsw)

	w.logger.Info("config watcher started", "path", w.path)
	return nil
}

// Stop stops watching and waits for the background goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("config watcher stopped")
}

// loop consumes fsnotify events with debouncing.
func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.doneCh)
	defer fsw.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}

// reload parses the file and swaps the snapshot. A broken file keeps the
// previous snapshot installed.
func (w *Watcher) reload() {
	snapshot, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous snapshot",
			"path", w.path,
			"error", err,
		)
		return
	}

	if err := w.store.Swap(snapshot); err != nil {
		w.logger.Error("config swap rejected", "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.path)
}
