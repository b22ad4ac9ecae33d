package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		enabled     zapcore.Level
		disabled    zapcore.Level
	}{
		{"info", false, zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", true, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", false, zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", true, zapcore.ErrorLevel, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, tt.development)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.disabled))
		})
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("loud", false)
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Component(zap.New(core), "node", "w0").Info("registered")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "node[w0]", logs.All()[0].LoggerName)

	assert.NotPanics(t, func() { Component(nil, "hub", "x").Info("ignored") })
}
