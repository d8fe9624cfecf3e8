package engine

import (
	"log/slog"
	"runtime/debug"
)

// GoSafe runs a function in a goroutine and recovers from panics.
// It logs the panic and stack trace instead of crashing the process.
func GoSafe(logger *slog.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in background task",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
