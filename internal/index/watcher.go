package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/assetgraph/internal/storage"
)

const (
	defaultDebounce       = 50 * time.Millisecond
	defaultReconcileDelay = 200 * time.Millisecond
)

// Handler applies file system changes under the watched root to the
// graph and its snapshot. Paths are slash separated and relative to the root.
type Handler interface {
	// FileChanged reloads a created or modified file. created reports
	// whether the file was new to the graph.
	FileChanged(ctx context.Context, rel string) (created bool, err error)
	// FileRemoved drops a deleted file.
	FileRemoved(ctx context.Context, rel string) error
	// Reconcile compares the graph with the directory after renames.
	Reconcile(ctx context.Context) error
}

// EventCallback is called after a watcher-driven change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// WatchOption tunes Watch.
type WatchOption func(*watcher)

// WithDebounce sets how long events for a path are collected before the
// handler sees them.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReconcileDelay sets the quiet period after a rename before the
// handler reconciles the whole tree.
func WithReconcileDelay(d time.Duration) WatchOption {
	return func(w *watcher) {
		if d > 0 {
			w.reconcileDelay = d
		}
	}
}

type watcher struct {
	root   string
	h      Handler
	logger *slog.Logger
	cb     EventCallback
	fsw    *fsnotify.Watcher

	debounce       time.Duration
	reconcileDelay time.Duration

	// pending accumulates the ops seen per relative path since the last flush.
	pending map[string]fsnotify.Op
}

// Watch starts an fsnotify watcher on root and forwards file changes to h
// until ctx is cancelled. It calls cb (if non-nil) after each successful
// change.
//
// Bursts of events for one path, such as an editor's truncate and write,
// reach h as a single call. Directories created at runtime are watched
// and their files loaded. Renames trigger a delayed reconciliation pass.
func Watch(ctx context.Context, root string, h Handler, logger *slog.Logger, cb EventCallback, opts ...WatchOption) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w := &watcher{
		root:           root,
		h:              h,
		logger:         logger,
		cb:             cb,
		fsw:            fsw,
		debounce:       defaultDebounce,
		reconcileDelay: defaultReconcileDelay,
		pending:        make(map[string]fsnotify.Op),
	}
	for _, o := range opts {
		o(w)
	}

	if err := w.addDirs(root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))
	return w.loop(ctx)
}

func (w *watcher) loop(ctx context.Context) error {
	flushT := newIdleTimer()
	reconcileT := newIdleTimer()
	defer flushT.Stop()
	defer reconcileT.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case <-flushT.C:
			if w.flush(ctx) {
				reconcileT.Reset(w.reconcileDelay)
			}

		case <-reconcileT.C:
			if err := w.h.Reconcile(ctx); err != nil {
				w.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.record(ev) {
				flushT.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// newIdleTimer returns a stopped timer whose channel fires only after Reset.
func newIdleTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// hiddenPath reports whether any segment of rel is hidden.
func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if storage.Hidden(seg) {
			return true
		}
	}
	return false
}

func (w *watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, !hiddenPath(rel)
}

// record queues ev and reports whether anything was queued. New
// directories are watched immediately so no file created inside them is
// missed before the flush.
func (w *watcher) record(ev fsnotify.Event) bool {
	rel, ok := w.rel(ev.Name)
	if !ok || ev.Op == fsnotify.Chmod {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addDirs(ev.Name); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", rel),
					slog.String("error", err.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", rel))
			}
		}
	}
	w.pending[rel] |= ev.Op
	return true
}

// flush hands the queued paths to the handler in path order and reports
// whether a rename was among them.
func (w *watcher) flush(ctx context.Context) (renamed bool) {
	rels := make([]string, 0, len(w.pending))
	for rel := range w.pending {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		op := w.pending[rel]
		delete(w.pending, rel)
		if op.Has(fsnotify.Rename) {
			renamed = true
		}

		info, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
		switch {
		case err == nil && info.IsDir():
			w.loadDir(ctx, rel)
		case err == nil && info.Mode().IsRegular():
			w.changed(ctx, rel)
		case errors.Is(err, fs.ErrNotExist) && op&(fsnotify.Remove|fsnotify.Rename) != 0:
			w.removed(ctx, rel)
		}
	}
	return renamed
}

func (w *watcher) emit(kind, rel string) {
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

func (w *watcher) changed(ctx context.Context, rel string) {
	created, err := w.h.FileChanged(ctx, rel)
	if err != nil {
		w.logger.Warn("watcher: reload failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := "updated"
	if created {
		kind = "created"
	}
	w.logger.Debug("watcher: reloaded", slog.String("path", rel), slog.String("op", kind))
	w.emit(kind, rel)
}

func (w *watcher) removed(ctx context.Context, rel string) {
	if err := w.h.FileRemoved(ctx, rel); err != nil {
		w.logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: removed", slog.String("path", rel))
	w.emit("deleted", rel)
}

// loadDir reloads the visible files under a directory that appeared
// after the watcher started.
func (w *watcher) loadDir(ctx context.Context, rel string) {
	base := filepath.Join(w.root, filepath.FromSlash(rel))
	_ = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p != base && storage.Hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if r, ok := w.rel(p); ok {
			w.changed(ctx, r)
		}
		return nil
	})
}

// addDirs adds dir and all its visible subdirectories to the watcher.
func (w *watcher) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && storage.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}
