package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchedExt lists the site file types that trigger a reload.
var watchedExt = map[string]bool{
	".html": true,
	".css":  true,
	".js":   true,
}

// Watcher watches the site directory and reports changed pages and assets.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rootDir  string
	onReload func(file string) error
	done     chan struct{}
	stopped  chan struct{}
	started  bool
	logger   *zap.Logger
}

// NewWatcher creates a watcher for rootDir and its subdirectories. onReload
// receives the changed file relative to rootDir, with forward slashes.
func NewWatcher(rootDir string, onReload func(string) error, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		rootDir:  rootDir,
		onReload: onReload,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger.Named("watch"),
	}

	if err := w.addDirectoryRecursive(rootDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		// Skip hidden dirs like .git
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.logger.Debug("added directory", zap.String("dir", path))
		return nil
	})
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	w.started = true
	go func() {
		defer close(w.stopped)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New subdirectories are watched too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectoryRecursive(event.Name); err != nil {
				w.logger.Warn("watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !watchedExt[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}

	relPath, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil {
		relPath = event.Name
	}
	relPath = filepath.ToSlash(relPath)

	w.logger.Info("file changed", zap.String("file", relPath), zap.String("op", event.Op.String()))
	if err := w.onReload(relPath); err != nil {
		w.logger.Error("reload failed", zap.String("file", relPath), zap.Error(err))
	}
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.watcher.Close()
	if w.started {
		<-w.stopped
	}
	return err
}
