package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recongo/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "recongo.log")
	loggers, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path}, false)
	require.NoError(t, err)

	loggers.Get(CategoryEngine).Info("grounded", zap.Int("clauses", 3))
	loggers.Get(CategoryEngine).Debug("hidden below info")
	_ = loggers.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "grounded", entry["msg"])
	assert.Equal(t, "engine", entry["logger"])
	assert.Equal(t, float64(3), entry["clauses"])
}

func TestVerboseForcesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recongo.log")
	loggers, err := New(config.LoggingConfig{Level: "error", Format: "json", File: path}, true)
	require.NoError(t, err)
	assert.True(t, loggers.Root().Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"}, false)
	assert.Error(t, err)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	loggers := Wrap(zap.New(core), config.LoggingConfig{
		Categories: map[string]bool{string(CategoryWatch): false},
	})

	loggers.Get(CategoryWatch).Info("change detected")
	loggers.Get(CategorySession).Info("search started")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "search started", entries[0].Message)
	assert.Equal(t, "session", entries[0].LoggerName)
}
