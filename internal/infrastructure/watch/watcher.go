package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a single file for changes using fsnotify. Editors
// replace files on save, so the parent directory is watched and events are
// filtered by name.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
}

// NewFileWatcher creates a watcher for one file. onChange fires debounced
// after the file is written, created or replaced.
func NewFileWatcher(path string, debounce time.Duration, onChange func()) *FileWatcher {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	return &FileWatcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
	}
}

// Run starts the event loop. It blocks until the context is cancelled.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	debouncer := NewDebouncer(w.debounce, w.onChange)
	defer debouncer.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debouncer.Trigger()
		case _, ok := <-watcher.Errors:
			// Transient watch errors are not fatal.
			if !ok {
				return nil
			}
		}
	}
}
