package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Basilakis/kai-sub003/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kai.log")
	logger, err := New(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{path}}, false)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible", zap.String("component", "test"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"visible"`)
	assert.Contains(t, lines[0], `"timestamp"`)
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "error", Format: "console", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}}, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
