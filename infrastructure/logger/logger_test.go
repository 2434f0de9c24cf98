package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(t *testing.T) (*Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return Wrap(zap.New(core)), logs
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestLogSequence(t *testing.T) {
	l, logs := newObserved(t)
	l.LogSequence("TICK", "EURUSD", "lost", 5, 8)

	entries := logs.FilterMessage("sequence_event").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "EURUSD", ctx["symbol"])
	assert.Equal(t, int64(8), ctx["received"])
	_, bad := ctx["_schema_error"]
	assert.False(t, bad)
}

func TestLogEventSchemaError(t *testing.T) {
	l, logs := newObserved(t)
	l.LogEvent(zapcore.InfoLevel, "bucket_flush", map[string]interface{}{"symbol": "EURUSD"})

	entries := logs.FilterMessage("bucket_flush").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["_schema_error"], "missing fields")
}

func TestLogError(t *testing.T) {
	l, logs := newObserved(t)
	l.LogError(errors.New("boom"), map[string]interface{}{"symbol": "USDJPY"})
	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestWithFields(t *testing.T) {
	l, logs := newObserved(t)
	l.WithFields(map[string]interface{}{"runId": "abc"}).Info("hello")
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].ContextMap()["runId"])
}
