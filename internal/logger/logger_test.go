package logger_test

import (
	"testing"

	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("json in production", func(t *testing.T) {
		l, err := logger.NewLogger(&config.LoggingConfig{Level: "warn", Format: "console"}, &config.AppConfig{Name: "q", Environment: "production"})
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := logger.NewLogger(&config.LoggingConfig{Level: "loud"}, &config.AppConfig{Environment: "development"})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})
}

func TestNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := logger.Named(zap.New(core), "refunds")

	l.Info("processed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "refunds", entry.LoggerName)
	assert.Equal(t, "refunds", entry.ContextMap()["component"])
}
