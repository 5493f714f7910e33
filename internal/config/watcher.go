package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a reload when any of a set of files changes. Bursts of
// events inside the debounce window collapse into one reload.
type Watcher struct {
	files    map[string]struct{}
	dirs     map[string]struct{}
	debounce time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the given files. Their parent directories are watched
// so that editors replacing a file by rename are still noticed.
func NewWatcher(files []string, debounce time.Duration, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &Watcher{
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		debounce: debounce,
		logger:   logger,
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = filepath.Clean(f)
		}
		w.files[abs] = struct{}{}
		w.dirs[filepath.Dir(abs)] = struct{}{}
	}
	return w
}

// Watch blocks until ctx is done, calling onReload after each settled change.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer fsw.Close()
	for dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			// missing directories are tolerated; the file simply keeps defaults
			w.logger.Printf("config watcher: skip %s: %v", dir, err)
		}
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("config: watcher events channel closed")
			}
			if !w.relevant(ev) {
				continue
			}
			w.trigger(ev.Name, onReload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("config: watcher errors channel closed")
			}
			w.logger.Printf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

func (w *Watcher) trigger(name string, onReload func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Printf("config changed (%s), reloading", filepath.Base(name))
		if err := onReload(); err != nil {
			w.logger.Printf("config reload failed, keeping previous values: %v", err)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
