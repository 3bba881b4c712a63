package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence.
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource.
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP server and then releases registered
// resources in reverse registration order, so a resource registered after
// its dependencies is closed before them.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
	done  bool
}

// NewShutdownManager creates a ShutdownManager. server may be nil. A zero
// timeout uses DefaultShutdownTimeout.
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

// Register adds a named shutdown step.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// Shutdown runs the sequence once. Later calls return nil. Every step runs
// even when an earlier one fails; the failures are returned together.
func (sm *ShutdownManager) Shutdown() error {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return nil
	}
	sm.done = true
	steps := sm.steps
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var result *multierror.Error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http server: %w", err))
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if ctx.Err() != nil {
			result = multierror.Append(result, fmt.Errorf("%s: skipped, shutdown timed out", step.name))
			continue
		}
		log := sm.logger.WithField("step", step.name)
		if err := step.fn(ctx); err != nil {
			log.WithError(err).Error("shutdown step failed")
			result = multierror.Append(result, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Debug("shutdown step complete")
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	sm.logger.Info("shutdown complete")
	return nil
}
