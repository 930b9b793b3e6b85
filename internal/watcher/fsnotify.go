package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/logging"
)

// Watcher follows script directories with fsnotify.
type Watcher struct {
	opts   options
	logger *zap.Logger
	fsw    *fsnotify.Watcher
	deb    *debouncer

	mu       sync.RWMutex
	paths    map[string]bool
	handlers []Handler
	closed   bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher. Call Watch to add directories and Close to
// release it.
func New(opts ...Option) (*Watcher, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		opts:    o,
		logger:  logging.OrNop(o.logger).Named("watcher"),
		fsw:     fsw,
		paths:   make(map[string]bool),
		closeCh: make(chan struct{}),
	}
	w.deb = newDebouncer(o.debounce, w.dispatch)

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// OnChange registers h for every delivered event.
func (w *Watcher) OnChange(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Watch follows dir and every directory below it. Directories created
// later are followed automatically.
func (w *Watcher) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return w.add(abs)
	}

	if w.IsWatching(abs) {
		return ErrAlreadyWatching
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && w.opts.hidden(p) {
			return filepath.SkipDir
		}
		if err := w.add(p); err != nil && !errors.Is(err, ErrAlreadyWatching) {
			return err
		}
		return nil
	})
}

func (w *Watcher) add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[path] {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.paths[path] = true
	w.logger.Debug("watching", zap.String("path", path))
	return nil
}

// IsWatching reports whether path is followed.
func (w *Watcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[abs]
}

// WatchedPaths returns the followed paths, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Pending returns the number of events waiting out their debounce delay.
func (w *Watcher) Pending() int {
	return w.deb.pendingCount()
}

// Flush delivers every pending event immediately.
func (w *Watcher) Flush() {
	w.deb.flush()
}

// Close stops the watcher. Pending events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.deb.stop()
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || w.opts.hidden(ev.Name) {
		return
	}

	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Watch(ev.Name); err != nil && !errors.Is(err, ErrAlreadyWatching) {
				w.logger.Warn("cannot follow new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}

	if op.Has(OpRemove) || op.Has(OpRename) {
		w.mu.Lock()
		delete(w.paths, ev.Name)
		w.mu.Unlock()
	}

	if !w.opts.wantsFile(ev.Name) {
		return
	}

	w.deb.add(Event{Path: ev.Name, Op: op, Timestamp: time.Now()})
}

func (w *Watcher) dispatch(event Event) {
	w.mu.RLock()
	handlers := append([]Handler(nil), w.handlers...)
	w.mu.RUnlock()

	w.logger.Debug("script changed", zap.String("path", event.Path), zap.Stringer("op", event.Op))
	for _, h := range handlers {
		h(event)
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
