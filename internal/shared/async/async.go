// Package async supervises fire-and-forget goroutines so a panic or an
// unchecked error in a background task (billing catch-up, watchdog sweeps)
// never takes down the process silently. Grounded on
// internal/shared/async/goroutine_test.go and its call site in
// internal/app/agent/coordinator/session_manager.go
// (async.Go(logger, "session-title-update", func() {...})).
package async

import (
	"github.com/kabsikabs/agentcore/internal/shared/logging"
)

// Go runs fn in a new goroutine, recovering any panic and logging it under
// name instead of crashing the process.
func Go(logger logging.Logger, name string, fn func()) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("async task %q panicked: %v", name, r)
			}
		}()
		fn()
	}()
}

// GoErr is like Go but for functions that return an error, which is logged
// (not swallowed) on failure.
func GoErr(logger logging.Logger, name string, fn func() error) {
	logger = logging.OrNop(logger)
	Go(logger, name, func() {
		if err := fn(); err != nil {
			logger.Warn("async task %q failed: %v", name, err)
		}
	})
}
