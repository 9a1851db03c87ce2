package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(LogOptions{Debug: true, Dir: dir, Scenario: "scenario.yaml"})
	require.NoError(t, err)

	logger.Debug("Quote cached")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "flashlender.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Quote cached"`)
	assert.Contains(t, string(data), `"scenario":"scenario.yaml"`)
	assert.Contains(t, string(data), `"app":"flashlender"`)
}

func TestNewLoggerStderrOnly(t *testing.T) {
	logger, err := NewLogger(LogOptions{})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
