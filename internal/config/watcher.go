package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/neuromance/neuromance/internal/core"
)

// Watcher reloads the manager when its config files change on disk.
// Events are debounced so editors that write in several steps trigger
// a single reload.
type Watcher struct {
	manager      *Manager
	watcher      *fsnotify.Watcher
	logger       *slog.Logger
	debounceTime time.Duration
	onReload     func()

	mu      sync.Mutex
	pending bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over the manager's config directory.
func NewWatcher(manager *Manager, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.Wrap(core.CodeConfig, err, "creating config watcher")
	}
	return &Watcher{
		manager:      manager,
		watcher:      fsw,
		logger:       logger,
		debounceTime: 500 * time.Millisecond,
	}, nil
}

// OnReload sets a callback invoked after each successful reload.
func (w *Watcher) OnReload(callback func()) {
	w.onReload = callback
}

// Start begins watching. The config directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.manager.configDir); err != nil {
		return core.Wrap(core.CodeConfig, err, "watching config dir")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutines.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if name != "models.json" && name != "settings.json" {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reloadIfPending()
		}
	}
}

func (w *Watcher) reloadIfPending() {
	w.mu.Lock()
	pending := w.pending
	w.pending = false
	w.mu.Unlock()
	if !pending {
		return
	}

	if err := w.manager.Reload(); err != nil {
		// Keep the last good configuration on a bad edit.
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	w.logger.Info("configuration reloaded")
	if w.onReload != nil {
		w.onReload()
	}
}
