package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_LogAndRead(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"portal", "billing", "wiki"} {
		e := NewEvent(ctx, ActionCreate, 7)
		e.AppName = name
		require.NoError(t, l.Log(ctx, e))
	}
	require.NoError(t, l.Close())

	events, err := l.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "portal", events[0].AppName)

	last, err := l.ReadLogs(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "billing", last[0].AppName)
	assert.Equal(t, "wiki", last[1].AppName)

	assert.Error(t, l.Log(ctx, NewEvent(ctx, ActionCreate, 7)), "closed logger")
	assert.NoError(t, l.Close())
}

func TestFileLogger_Rotates(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(FileLoggerConfig{BasePath: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(ctx, NewEvent(ctx, ActionUpdate, 7)))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	current, err := l.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, current, 1)
}

func TestNewFileLogger_RequiresDirectory(t *testing.T) {
	_, err := NewFileLogger(FileLoggerConfig{})
	assert.Error(t, err)
}
