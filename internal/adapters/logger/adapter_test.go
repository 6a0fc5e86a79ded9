package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	infoCalled  bool
	debugCalled bool
	warnCalled  bool
	errorCalled bool
	lastMsg     string
	lastFields  map[string]any
	lastErr     error
}

func (m *mockLogger) Info(_ context.Context, msg string, fields map[string]any) {
	m.infoCalled = true
	m.lastMsg = msg
	m.lastFields = fields
}

func (m *mockLogger) Debug(_ context.Context, msg string, fields map[string]any) {
	m.debugCalled = true
	m.lastMsg = msg
	m.lastFields = fields
}

func (m *mockLogger) Warn(_ context.Context, msg string, fields map[string]any) {
	m.warnCalled = true
	m.lastMsg = msg
	m.lastFields = fields
}

func (m *mockLogger) Error(_ context.Context, msg string, err error, fields map[string]any) {
	m.errorCalled = true
	m.lastMsg = msg
	m.lastErr = err
	m.lastFields = fields
}

func TestZapAdapter_PassesThroughWithoutScope(t *testing.T) {
	mock := &mockLogger{}
	adapter := NewZapAdapter(mock)
	ctx := context.Background()
	fields := map[string]any{"key": "value"}

	adapter.Info(ctx, "info message", fields)
	assert.True(t, mock.infoCalled)
	assert.Equal(t, "info message", mock.lastMsg)
	assert.Equal(t, fields, mock.lastFields)

	adapter.Debug(ctx, "debug message", nil)
	assert.True(t, mock.debugCalled)
	assert.Nil(t, mock.lastFields)

	adapter.Warn(ctx, "warn message", fields)
	assert.True(t, mock.warnCalled)
	assert.Equal(t, "warn message", mock.lastMsg)
}

func TestZapAdapter_Error(t *testing.T) {
	mock := &mockLogger{}
	adapter := NewZapAdapter(mock)

	adapter.Error(context.Background(), "error message", assert.AnError, map[string]any{"op": "checkout"})

	assert.True(t, mock.errorCalled)
	assert.Equal(t, "error message", mock.lastMsg)
	assert.Equal(t, assert.AnError, mock.lastErr)
	assert.Equal(t, map[string]any{"op": "checkout"}, mock.lastFields)
}

func TestZapAdapter_ScopedFields(t *testing.T) {
	mock := &mockLogger{}
	base := NewZapAdapter(mock)
	scoped := base.Component("session").With(map[string]any{"path": "/repo"})

	scoped.Info(context.Background(), "initialized", map[string]any{"branches": 3, "path": "/override"})

	assert.Equal(t, map[string]any{
		"component": "session",
		"path":      "/override",
		"branches":  3,
	}, mock.lastFields)

	base.Info(context.Background(), "unscoped", nil)
	assert.Nil(t, mock.lastFields)
}

func TestZapAdapter_WithDoesNotMutateParent(t *testing.T) {
	mock := &mockLogger{}
	parent := NewZapAdapter(mock).Component("resolver")
	_ = parent.With(map[string]any{"extra": true})

	parent.Warn(context.Background(), "warn", nil)

	assert.Equal(t, map[string]any{"component": "resolver"}, mock.lastFields)
}
