package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mifrun/task-runner/internal/logging"
)

// PromptChangeCallback is called with the template files that changed
type PromptChangeCallback func(changedFiles []string)

// PromptWatcher monitors prompt override directories for template edits
type PromptWatcher struct {
	watcher  *fsnotify.Watcher
	callback PromptChangeCallback
	debounce time.Duration
	logger   *logging.Logger

	dirs map[string]struct{}

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewPromptWatcher creates a watcher; directories are added with AddDir
func NewPromptWatcher(callback PromptChangeCallback, logger *logging.Logger) (*PromptWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &PromptWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond,
		logger:   logger.With("prompts"),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}, nil
}

// AddDir watches an override directory and its subdirectories. Missing
// directories are ignored.
func (pw *PromptWatcher) AddDir(dir string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if _, exists := pw.dirs[dir]; exists {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return pw.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pw.dirs[dir] = struct{}{}
	return nil
}

// Dirs returns the watched root directories
func (pw *PromptWatcher) Dirs() []string {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	out := make([]string, 0, len(pw.dirs))
	for d := range pw.dirs {
		out = append(out, d)
	}
	return out
}

// Start begins watching for file changes
func (pw *PromptWatcher) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-pw.watcher.Events:
				if !ok {
					return
				}
				pw.handleEvent(event)
			case err, ok := <-pw.watcher.Errors:
				if !ok {
					return
				}
				pw.logger.Warnf("watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (pw *PromptWatcher) Stop() {
	if pw.cancel != nil {
		pw.cancel()
	}
	pw.watcher.Close()

	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.mu.Unlock()
}

func (pw *PromptWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = pw.watcher.Add(event.Name)
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.pending[event.Name] = struct{}{}

	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.flush)
}

func (pw *PromptWatcher) flush() {
	pw.mu.Lock()
	pending := pw.pending
	pw.pending = make(map[string]struct{})
	pw.mu.Unlock()

	if pw.callback == nil || len(pending) == 0 {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	pw.logger.Infof("prompt templates changed: %s", strings.Join(files, ", "))
	pw.callback(files)
}

// SetDebounce sets the debounce duration for batching file changes
func (pw *PromptWatcher) SetDebounce(d time.Duration) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.debounce = d
}
