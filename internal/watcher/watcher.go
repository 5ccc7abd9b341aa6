// Package watcher turns fsnotify events under the vault directories into
// document changes.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/docid"
)

// Source describes which files are documents and how they are named.
// storage.FileStore implements it.
type Source interface {
	Resolver() *docid.Resolver
	Accepts(path string) bool
	Forget(id string)
}

// Sink receives document changes. queue.Queue implements it.
type Sink interface {
	Upsert(id string)
	Remove(id string)
	Resync()
}

// Watcher watches the vault directories of a Source.
type Watcher struct {
	source    Source
	sink      Sink
	recursive bool
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	watched   []string
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	logger    *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher over the roots of source that reports changes to sink.
func New(source Source, sink Sink, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		source:    source,
		sink:      sink,
		recursive: recursive,
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	roots := w.source.Resolver().Roots()
	w.logger.Debug("watcher starting", zap.Strings("roots", roots), zap.Bool("recursive", w.recursive))
	for _, root := range roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	resolver := w.source.Resolver()
	id, ok := resolver.ID(path)
	if !ok || hidden(id) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if w.source.Accepts(path) {
			w.sink.Upsert(id)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.source.Accepts(path) {
			w.source.Forget(id)
			w.sink.Remove(id)
			return
		}
		// A removed directory takes its documents with it; only a full
		// listing can tell which ones.
		if filepath.Ext(path) == "" {
			w.sink.Resync()
		}
	}
}

// hidden reports whether any element of a document id starts with a dot.
func hidden(id string) bool {
	for _, part := range strings.Split(id, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// handleNewDirectory watches a directory created under a root and queues the
// documents already inside it.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.logger.Debug("watcher handling new directory", zap.String("path", dirPath))

	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.recursive {
		if err := w.addTreeLocked(dirPath); err != nil {
			w.logger.Warn("watcher failed to add directory", zap.String("path", dirPath), zap.Error(err))
		}
	}
	w.mu.Unlock()

	if w.recursive {
		w.syncDirectory(dirPath)
	}
}

func (w *Watcher) addRootLocked(root string) error {
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.watched = append(w.watched, root)
		return nil
	}
	return w.addTreeLocked(root)
}

// addTreeLocked watches dir and every non-hidden directory below it.
func (w *Watcher) addTreeLocked(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.watched = append(w.watched, path)
		return nil
	})
}

func (w *Watcher) syncDirectory(dir string) {
	resolver := w.source.Resolver()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.source.Accepts(path) {
			return nil
		}
		if id, ok := resolver.ID(path); ok {
			w.logger.Debug("watcher queueing existing file", zap.String("doc_id", id))
			w.sink.Upsert(id)
		}
		return nil
	})
}

// Directories returns the directories currently watched.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watched...)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.watched = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
