package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/parley/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_Console(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "trace", Format: "json"})
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestFrameEntry_Log(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	FrameEntry{
		Direction:  Inbound,
		RemoteAddr: "127.0.0.1:5000",
		Username:   "alice",
		Command:    "ENTER",
		Payload:    `{"username":"alice"}`,
	}.Log(logger)

	entries := logs.All()
	require.Len(t, entries, 1)
	frame, ok := entries[0].ContextMap()["frame"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "-->", frame["direction"])
	assert.Equal(t, "alice", frame["username"])
	assert.Equal(t, "ENTER", frame["command"])
}

func TestFrameEntry_OmitsEmptyFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	FrameEntry{Direction: Outbound, RemoteAddr: "x", Command: "PING"}.Log(zap.New(core))

	frame := logs.All()[0].ContextMap()["frame"].(map[string]interface{})
	_, hasUser := frame["username"]
	_, hasPayload := frame["payload"]
	assert.False(t, hasUser)
	assert.False(t, hasPayload)
}

func TestFrameEntry_SkippedAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	FrameEntry{Direction: Outbound, Command: "PING"}.Log(zap.New(core))
	assert.Equal(t, 0, logs.Len())
}
