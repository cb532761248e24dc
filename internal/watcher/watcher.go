// Package watcher observes a module tree and turns bursts of filesystem
// events into one reload per path.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/alucardeht/hotcmd/internal/logger"
	"github.com/alucardeht/hotcmd/internal/module"
)

var log = logger.ForComponent("watcher")

// ChangeHandler receives debounced changes. Exactly one call is made per
// quiet period per path.
type ChangeHandler interface {
	// ModuleChanged is called for a module file that exists.
	ModuleChanged(path string)
	// ModuleRemoved is called for a path (file or directory) that no
	// longer exists.
	ModuleRemoved(path string)
}

type Watcher struct {
	config      WatcherConfig
	matcher     *module.Matcher
	handler     ChangeHandler
	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *Debouncer
	mu          sync.RWMutex
	dirs        map[string]bool
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
	faults      atomic.Int64
	reloads     atomic.Int64
}

func New(config WatcherConfig, matcher *module.Matcher, handler ChangeHandler) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher: nil change handler")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:    config,
		matcher:   matcher,
		handler:   handler,
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(config.DebounceWindow),
		dirs:      make(map[string]bool),
	}, nil
}

func (w *Watcher) addToWatcher(path string) error {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	if err := w.fsWatcher.Add(path); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[path] = true
	w.mu.Unlock()
	return nil
}

func (w *Watcher) removeFromWatcher(path string) {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	w.fsWatcher.Remove(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || (len(dir) > len(prefix) && dir[:len(prefix)] == prefix) {
			delete(w.dirs, dir)
		}
	}
}

// Start watches the matcher's root recursively and begins delivering
// changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	root := w.matcher.Root()
	log.Info("starting module watcher", "root", root, "debounce", w.config.DebounceWindow)

	if err := w.addToWatcher(root); err != nil {
		w.mu.Lock()
		w.running = false
		w.cancel()
		w.mu.Unlock()
		return err
	}
	w.walkAndAdd(root, false)

	go w.handleEvents()
	return nil
}

// walkAndAdd watches every directory under path. When schedule is set, the
// module files found are scheduled too; this covers files written into a
// directory before its watch was in place.
func (w *Watcher) walkAndAdd(path string, schedule bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		w.fault("read directory", path, err)
		return
	}

	for _, entry := range entries {
		fullPath := filepath.Join(path, entry.Name())

		if w.matcher.Excluded(fullPath) {
			continue
		}

		if entry.IsDir() {
			if err := w.addToWatcher(fullPath); err != nil {
				w.fault("watch directory", fullPath, err)
				continue
			}
			log.Debug("watching directory", "path", fullPath)
			w.walkAndAdd(fullPath, schedule)
			continue
		}

		if schedule && w.matcher.IsModule(fullPath) {
			w.schedule(fullPath)
		}
	}
}

func (w *Watcher) handleEvents() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.fault("fsnotify", "", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	fileEvent := convertEvent(event)
	if fileEvent == nil {
		return
	}

	path := filepath.Clean(fileEvent.Path)
	if w.matcher.Excluded(path) {
		return
	}

	log.Debug("file event", "path", path, "op", fileEvent.Type.String())

	if fileEvent.Type == EventCreate {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addToWatcher(path); err != nil {
				w.fault("watch directory", path, err)
				return
			}
			w.walkAndAdd(path, true)
			return
		}
	}

	if fileEvent.Gone() {
		w.mu.RLock()
		wasDir := w.dirs[path]
		w.mu.RUnlock()
		if wasDir {
			w.removeFromWatcher(path)
			w.schedule(path)
			return
		}
	}

	if w.matcher.IsModule(path) {
		w.schedule(path)
	}
}

func (w *Watcher) schedule(path string) {
	w.debouncer.Schedule(path, func() {
		w.fire(path)
	})
}

func (w *Watcher) fire(path string) {
	w.reloads.Add(1)
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.fault("stat", path, err)
			return
		}
		log.Info("module path removed", "path", path)
		w.handler.ModuleRemoved(path)
		return
	}
	w.handler.ModuleChanged(path)
}

// fault logs a watcher-level problem. The watcher keeps running on every
// other path.
func (w *Watcher) fault(op, path string, err error) {
	w.faults.Add(1)
	log.Error("watcher fault", "op", op, "path", path, "error", err)
}

// Faults counts observation errors since start.
func (w *Watcher) Faults() int64 {
	return w.faults.Load()
}

// Reloads counts debounced actions that have fired.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

func (w *Watcher) Pending() int {
	return w.debouncer.Pending()
}

func (w *Watcher) WatchedDirs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.dirs)
}

func (w *Watcher) closeFS() error {
	var err error
	w.closeOnce.Do(func() {
		w.fsWatcherMu.Lock()
		err = w.fsWatcher.Close()
		w.fsWatcherMu.Unlock()
	})
	return err
}

// Stop ends observation and drops pending reloads. Reloads already running
// are allowed to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	if wasRunning {
		w.cancel()
	}
	done := w.done
	w.mu.Unlock()

	if wasRunning {
		log.Info("stopping module watcher")
	}

	err := w.closeFS()

	if wasRunning && done != nil {
		<-done
	}

	if dropped := w.debouncer.Stop(); dropped > 0 {
		log.Debug("dropped pending reloads", "count", dropped)
	}
	return err
}
