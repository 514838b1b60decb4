package main

import (
	"testing"

	"climatesync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger(config.LoggingConfig{Development: true}, false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger(config.LoggingConfig{Level: "error"}, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(config.LoggingConfig{Development: true}, true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	cfg := config.Default()
	cfg.HomeAssistant.URL = "ws://127.0.0.1:1/api/websocket"
	cfg.HomeAssistant.Token = "token"

	a := newApp(cfg, zap.NewNop())
	assert.NotNil(t, a.hub)
	assert.NotNil(t, a.metrics)
	assert.Nil(t, a.api)
	assert.NoError(t, a.stop())

	cfg.API.Enabled = true
	cfg.API.Port = 18080
	a = newApp(cfg, zap.NewNop())
	assert.NotNil(t, a.api)
}
