package host

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// ScriptExt is the extension of script files.
const ScriptExt = ".lua"

// ErrScriptNotFound is returned when a template has no script file.
var ErrScriptNotFound = errors.New("script not found")

// Scripts reads template scripts from a file system.
type Scripts struct {
	fsys fs.FS
}

// NewScripts returns a loader over fsys.
func NewScripts(fsys fs.FS) *Scripts {
	return &Scripts{fsys: fsys}
}

// Path returns the file name of a template, adding ScriptExt when the name
// has no extension.
func (s *Scripts) Path(name string) (string, error) {
	p := strings.TrimPrefix(path.Clean("/"+name), "/")
	if p == "" || !fs.ValidPath(p) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if path.Ext(p) == "" {
		p += ScriptExt
	}
	return p, nil
}

// Load returns the source of a template.
func (s *Scripts) Load(name string) (string, error) {
	p, err := s.Path(name)
	if err != nil {
		return "", err
	}
	b, err := fs.ReadFile(s.fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, p)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
