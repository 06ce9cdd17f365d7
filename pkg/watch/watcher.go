package watch

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// Config describes one watched tree
type Config struct {
	Root string

	// Glob patterns matched against the path relative to Root and against
	// each path element.
	Ignore []string

	// Absolute file paths never reported, such as the app's own logs.
	Exclude []string

	Debounce time.Duration
}

// ChangeCallback receives the last changed path of a burst
type ChangeCallback func(path string)

// Watcher reports file changes under a directory tree, one callback per burst
type Watcher struct {
	config   Config
	onChange ChangeCallback
	logger   logging.Logger

	exclude map[string]bool

	mutex   sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewWatcher(config Config, onChange ChangeCallback, logger logging.Logger) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	exclude := make(map[string]bool, len(config.Exclude))
	for _, p := range config.Exclude {
		if p != "" {
			exclude[filepath.Clean(p)] = true
		}
	}

	return &Watcher{
		config:   config,
		onChange: onChange,
		logger:   logger,
		exclude:  exclude,
	}
}

func ValidateConfig(config Config) error {
	if config.Root == "" {
		return errors.NewValidationError("watch root is required", nil)
	}
	for _, pattern := range config.Ignore {
		if _, err := path.Match(pattern, ""); err != nil {
			return errors.NewValidationError("invalid ignore pattern", err).WithContext("pattern", pattern)
		}
	}
	if config.Debounce < 0 {
		return errors.NewValidationError("watch debounce cannot be negative", nil)
	}
	return nil
}

func (w *Watcher) Start(ctx context.Context) error {
	if err := ValidateConfig(w.config); err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running {
		return errors.NewConflictError("watcher is already running", nil).WithContext("root", w.config.Root)
	}

	info, err := os.Stat(w.config.Root)
	if err != nil {
		return errors.NewIOError("watch root not accessible", err).WithContext("root", w.config.Root)
	}
	if !info.IsDir() {
		return errors.NewValidationError("watch root is not a directory", nil).WithContext("root", w.config.Root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewIOError("failed to create file watcher", err)
	}

	if err := w.addTree(fsw, w.config.Root); err != nil {
		fsw.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(loopCtx, fsw)

	w.logger.Infof("Watching %s for changes", w.config.Root)
	return nil
}

// Stop waits for a callback in progress to return
func (w *Watcher) Stop() {
	w.mutex.Lock()
	if !w.running {
		w.mutex.Unlock()
		return
	}
	w.running = false
	w.cancel()
	fsw := w.fsw
	w.fsw = nil
	w.mutex.Unlock()

	w.wg.Wait()
	fsw.Close()

	w.logger.Debugf("Stopped watching %s", w.config.Root)
}

func (w *Watcher) IsRunning() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.running
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable subtrees are skipped.
			if p == root {
				return errors.NewIOError("failed to walk watch root", err).WithContext("root", root)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.config.Root && w.IsIgnored(p) {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			w.logger.Warnf("Failed to watch %s: %v", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	timer := time.NewTimer(w.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var lastPath string
	pending := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warnf("Failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}

			lastPath = event.Name
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.config.Debounce)
			pending = true

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("File watcher error, root: %s, error: %v", w.config.Root, err)

		case <-timer.C:
			pending = false
			w.logger.Infof("Change detected: %s", lastPath)
			if w.onChange != nil {
				w.onChange(lastPath)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.exclude[filepath.Clean(event.Name)] {
		return false
	}
	return !w.IsIgnored(event.Name)
}

// IsIgnored reports whether p falls under a hidden directory, node_modules or
// one of the ignore patterns
func (w *Watcher) IsIgnored(p string) bool {
	rel, err := filepath.Rel(w.config.Root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	elements := strings.Split(rel, "/")

	for i, element := range elements {
		if strings.HasPrefix(element, ".") || element == "node_modules" {
			return true
		}
		prefix := strings.Join(elements[:i+1], "/")
		for _, pattern := range w.config.Ignore {
			pattern = filepath.ToSlash(pattern)
			if ok, _ := path.Match(pattern, element); ok {
				return true
			}
			if ok, _ := path.Match(pattern, prefix); ok {
				return true
			}
		}
	}
	return false
}
