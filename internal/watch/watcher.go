// Package watch pushes local edits to the remote as they happen,
// driven by filesystem notifications on the mirror.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jwhitfield/csync/internal/engine"
	"github.com/jwhitfield/csync/internal/store"
)

// debounceWindow is how long the watcher waits after the last event
// before pushing. Editors write in bursts; one push per burst is
// enough.
const debounceWindow = 2 * time.Second

// PushFunc runs one push of the mirror; the watcher calls it after
// each quiet period.
type PushFunc func(ctx context.Context) engine.Summary

// Watcher observes the mirror and triggers a push after edits settle.
type Watcher struct {
	store  *store.Store
	push   PushFunc
	logger *slog.Logger
}

// New returns a watcher over the mirror.
func New(st *store.Store, push PushFunc, logger *slog.Logger) *Watcher {
	return &Watcher{store: st, push: push, logger: logger}
}

// Run blocks until the context is cancelled, pushing the mirror
// whenever edits stop for the debounce window. New directories are
// added to the watch as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher); err != nil {
		return fmt.Errorf("adding mirror to watcher: %w", err)
	}

	w.logger.Info("watching mirror", "root", w.store.Root(), "debounce", debounceWindow)

	var (
		timer   = time.NewTimer(debounceWindow)
		pending bool
	)

	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			// New directory: watch it so edits inside it are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

			if pending && !timer.Stop() {
				<-timer.C
			}

			timer.Reset(debounceWindow)
			pending = true

			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			pending = false

			summary := w.push(ctx)
			w.logger.Info("push complete", "summary", summary.String())
		}
	}
}

// addRecursive watches every node directory under the mirror root,
// skipping the control directory.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.store.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.store.Root() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// shouldIgnore filters control-directory traffic and editor temp files.
func (w *Watcher) shouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(w.store.Root(), absPath)
	if err != nil {
		return true
	}

	rel = filepath.ToSlash(rel)
	if rel == store.ControlDirName || strings.HasPrefix(rel, store.ControlDirName+"/") {
		return true
	}

	name := filepath.Base(absPath)
	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return true
	}

	return false
}
