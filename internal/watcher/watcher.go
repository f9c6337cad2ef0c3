// Package watcher re-validates files as they change on disk, for editor
// and long-running workflows.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Checker validates one file. The engine satisfies this.
type Checker interface {
	Recheck(ctx context.Context, path string) error
	Forget(path string) error
	Supports(path string) bool
}

// Watcher monitors a directory tree and pushes changed files through a
// Checker. Subdirectories are watched recursively; directories created
// while watching are picked up.
type Watcher struct {
	fw      *fsnotify.Watcher
	checker Checker
	log     *zap.Logger
}

// New builds a Watcher over root.
func New(root string, checker Checker, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fw: fw, checker: checker, log: log}
	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled or the watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
		w.recheck(ctx, event.Name)
	case event.Has(fsnotify.Write):
		w.recheck(ctx, event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.checker.Supports(event.Name) {
			if err := w.checker.Forget(event.Name); err != nil {
				w.log.Warn("drop removed file", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}
}

func (w *Watcher) recheck(ctx context.Context, path string) {
	if !w.checker.Supports(path) {
		return
	}
	if err := w.checker.Recheck(ctx, path); err != nil {
		w.log.Warn("recheck", zap.String("path", path), zap.Error(err))
		return
	}
	w.log.Info("rechecked", zap.String("path", path))
}

func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(p) {
			return filepath.SkipDir
		}
		return w.fw.Add(p)
	})
}

func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && base != "." {
		return true
	}
	return base == "node_modules" || base == "vendor"
}
