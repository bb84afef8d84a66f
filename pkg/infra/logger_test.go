package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Guizzs26/go-track/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, slog.LevelInfo, "json")

	l.Debug("hidden")
	l.Info("Event tracked", "event_type", "click")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Event tracked", entry["msg"])
	assert.Equal(t, "click", entry["event_type"])
}

func TestSetupLogger_DebugAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.log")
	cfg := config.Default()
	cfg.LogLevel = "ERROR"
	cfg.Debug = true
	cfg.LogFile = path

	l := SetupLogger(cfg)
	l.Debug("debug line")
	CloseLogger()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "debug line"), "Debug forces the DEBUG level")
	assert.Contains(t, string(data), "component=track")
}
