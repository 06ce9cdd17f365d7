package logcollection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapterFromLogger(zap.New(core))

	adapter.WithWorker("zoneybot").
		WithFields(PID(42), RunID("r-1")).
		WithError(fmt.Errorf("exit status 1")).
		LogWithFields(WarnLevel, "process exited", Duration("uptime", 0))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "process exited", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "zoneybot", fields["app"])
	assert.Equal(t, int64(42), fields["pid"])
	assert.Equal(t, "r-1", fields["run_id"])
	assert.Equal(t, "exit status 1", fields["error"])
}

func TestZapAdapter_RequestIDFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	adapter := NewZapAdapterFromLogger(zap.New(core))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-7")
	adapter.LogWithContext(ctx, InfoLevel, "handled")
	adapter.WithContext(ctx).Infof("again")

	require.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "req-7", entry.ContextMap()["request_id"])
	}
}

func TestZapAdapter_SetLevel(t *testing.T) {
	adapter, err := NewZapAdapter(ZapConfig{Level: "info", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	assert.False(t, adapter.logger.Core().Enabled(zapcore.DebugLevel))
	adapter.SetLevel(DebugLevel)
	assert.True(t, adapter.logger.Core().Enabled(zapcore.DebugLevel))
}

func TestAsLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := AsLogger(NewZapAdapterFromLogger(zap.New(core)))

	logger.Infof("started %s", "web")
	logger.LogLevelf(3, "failed")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "started web", logs.All()[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	_, err = ParseLogLevel("trace")
	assert.Error(t, err)
}
