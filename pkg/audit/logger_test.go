package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	mu       sync.Mutex
	events   []*Event
	err      error
	closeErr error
	closed   bool
}

func (r *recordingLogger) Log(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiLogger(t *testing.T) {
	ctx := context.Background()
	broken := &recordingLogger{err: errors.New("disk full"), closeErr: errors.New("close failed")}
	ok := &recordingLogger{}
	m := NewMultiLogger(broken, ok, NopLogger{})

	err := m.Log(ctx, NewEvent(ctx, ActionCreate, 1))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, ok.events, 1, "delivery continues past a failing destination")
	assert.Len(t, broken.events, 1)

	assert.ErrorContains(t, m.Close(), "close failed")
	assert.True(t, ok.closed)

	assert.NoError(t, NewMultiLogger(ok).Log(ctx, NewEvent(ctx, ActionDelete, 1)))
}
