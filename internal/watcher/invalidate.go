package watcher

import (
	"go.uber.org/zap"

	"github.com/dshills/warden/internal/logging"
)

// CacheClearer drops compiled scripts. *runtime.Manager and
// *runtime.Isolate implement it.
type CacheClearer interface {
	ClearBytecodeCache()
}

// InvalidateOnChange returns a handler that clears c's bytecode cache
// whenever a script changes, so the next spawn recompiles from source.
func InvalidateOnChange(c CacheClearer, logger *zap.Logger) Handler {
	logger = logging.OrNop(logger)
	return func(event Event) {
		logger.Info("clearing bytecode cache",
			zap.String("path", event.Path),
			zap.Stringer("op", event.Op),
		)
		c.ClearBytecodeCache()
	}
}
