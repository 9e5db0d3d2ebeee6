// Package watcher reports changes to a set of files, such as the proxy
// configuration and the blacklist, so they can be reloaded without a signal.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long writes must settle before a change is reported.
const DefaultDebounce = 200 * time.Millisecond

// Watcher watches the directories holding its files, so editors that
// replace a file by renaming over it are still noticed.
type Watcher struct {
	fs       *fsnotify.Watcher
	files    map[string]struct{}
	debounce time.Duration
}

// New starts watching paths. Files that do not exist yet are reported once
// they are created.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		fs:       fsw,
		files:    make(map[string]struct{}, len(paths)),
		debounce: debounce,
	}
	dirs := make(map[string]struct{})
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("invalid path %s: %w", path, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run calls onChange after a watched file was written, created, removed or
// renamed, at most once per debounce interval. It returns when ctx is done
// or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, onChange func()) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			logger.Debug("File %s changed (%s)", event.Name, event.Op)

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, onChange)
			mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
