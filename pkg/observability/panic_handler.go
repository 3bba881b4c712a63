package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic logs a recovered panic with its stack. Defer it at the top of
// a background goroutine; the goroutine then returns normally.
func RecoverPanic(logger logrus.FieldLogger, task string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"task":  task,
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
		}).Error("background task panicked")
	}
}

// Go runs fn on a new goroutine guarded by RecoverPanic.
func Go(logger logrus.FieldLogger, task string, fn func()) {
	go func() {
		defer RecoverPanic(logger, task)
		fn()
	}()
}

// PanicError converts a recovered value to an error. It returns nil when r
// is nil.
func PanicError(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
