package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces editor save bursts into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes the skills directory and keeps the registry in sync:
// create/modify reparses and replaces, delete unloads by source path.
type Watcher struct {
	dir      string
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for dir feeding registry.
func NewWatcher(dir string, registry *Registry, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		registry: registry,
		debounce: debounce,
		logger:   logger.With("component", "skill_watcher"),
		timers:   make(map[string]*time.Timer),
	}
}

// Start performs the initial scan and begins watching. It returns once
// the watch is established; event handling runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	if err := w.registry.ScanDir(w.dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skills dir: %w", err)
	}
	w.watcher = watcher

	go w.run(ctx)
	w.logger.Info("skill watcher started", "dir", w.dir)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSkillFile(filepath.Base(event.Name)) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule (re)arms the per-path debounce timer.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.apply(path)
	})
}

// apply reconciles one path against the registry.
func (w *Watcher) apply(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		w.registry.UnloadByPath(path)
		return
	}
	skill, err := ParseFile(path)
	if err != nil {
		w.logger.Warn("skipping invalid skill file", "path", path, "error", err)
		return
	}
	w.registry.Load(skill)
}
