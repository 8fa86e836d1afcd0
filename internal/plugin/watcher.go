package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Rescanner is what the watcher refreshes.
type Rescanner interface {
	Dirs() []string
	Rescan() error
}

// Watcher rescans bundle directories after manifests change. Bursts of
// events are coalesced: a rescan runs once no event arrived for the
// debounce window.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	target   Rescanner
	debounce time.Duration
	pending  time.Time
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewWatcher creates a watcher for target's directories.
func NewWatcher(target Rescanner, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:  fw,
		target:   target,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start adds the directories and their bundle subdirectories to the watch
// list and starts the event loop. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.target.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.logger.Warn("cannot create bundle dir", "dir", dir, "error", err)
			continue
		}
		w.add(dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				w.add(filepath.Join(dir, e.Name()))
			}
		}
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the watcher. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing bundle watcher", "error", err)
	}
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("watch failed", "dir", dir, "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(min(w.debounce/2, 100*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
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
			w.logger.Warn("bundle watcher error", "error", err)
		case <-tick.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return
	}
	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.add(event.Name)
		}
	case event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0:
	default:
		return
	}

	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
	if due {
		w.pending = time.Time{}
	}
	w.mu.Unlock()

	if !due {
		return
	}
	if err := w.target.Rescan(); err != nil {
		w.logger.Warn("bundle rescan failed", "error", err)
	}
}
