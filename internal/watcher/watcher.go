// Package watcher reports changes to script files on disk.
//
// A Watcher follows a directory tree, filters events down to script files
// and coalesces bursts of changes to the same path into one event before
// handing it to the registered handlers.
package watcher

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// DefaultDebounce is the quiet period after the last change to a path
// before its event is delivered.
const DefaultDebounce = 200 * time.Millisecond

// Op is a set of file operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
}

// String returns the operation names joined by "|".
func (op Op) String() string {
	var names []string
	for _, n := range opNames {
		if op.Has(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, "|")
}

// Has reports whether op includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is a coalesced change to one path.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Handler receives delivered events. Handlers run on a timer goroutine and
// must not block for long.
type Handler func(event Event)

type options struct {
	debounce     time.Duration
	extensions   map[string]bool
	ignoreHidden bool
	logger       *zap.Logger
}

// Option configures a Watcher.
type Option func(*options)

// WithDebounce sets the coalescing delay. Non-positive values select
// DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithExtensions limits events to files with one of the given extensions,
// such as ".lua". With no extensions every file is reported.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			o.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithIgnoreHidden skips files and directories whose name starts with a dot.
func WithIgnoreHidden(ignore bool) Option {
	return func(o *options) {
		o.ignoreHidden = ignore
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func (o *options) wantsFile(path string) bool {
	if len(o.extensions) == 0 {
		return true
	}
	return o.extensions[strings.ToLower(filepath.Ext(path))]
}

func (o *options) hidden(path string) bool {
	if !o.ignoreHidden {
		return false
	}
	base := filepath.Base(path)
	return len(base) > 1 && base[0] == '.'
}
