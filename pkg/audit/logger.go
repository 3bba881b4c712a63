package audit

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the destination
	Close() error
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// MultiLogger logs to multiple audit loggers. A failing destination does not
// stop delivery to the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every destination.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger and returns the errors of every failed destination.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var result *multierror.Error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var result *multierror.Error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
