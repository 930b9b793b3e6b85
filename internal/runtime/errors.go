package runtime

import "errors"

// Runtime errors.
var (
	// ErrIsolateClosed is returned when spawning on a closed isolate.
	ErrIsolateClosed = errors.New("isolate is closed")

	// ErrPromiseAwaited is raised in a script that awaits a promise a
	// second time.
	ErrPromiseAwaited = errors.New("promise already awaited")

	// ErrModuleNotFound is raised by require for names outside the
	// registered modules.
	ErrModuleNotFound = errors.New("module not found")
)
