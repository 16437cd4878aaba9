package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Config{Level: "debug", Format: "json"}))

	log.Debug("leased job", slog.String("queue", "emails"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "leased job", entry["msg"])
	assert.Equal(t, "emails", entry["queue"])
	assert.Contains(t, entry, "time")
}

func TestNewHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Config{Level: "warn", Format: "json"}))

	log.Info("dropped")
	log.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestNewHandler_Console(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Config{Format: "console", NoColor: true}))

	log.Info("worker started", "concurrency", 4)

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "worker started")
	assert.Contains(t, out, "concurrency=4")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowq.log")
	log, closer, err := New(Config{Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestNew_BadFileOutput(t *testing.T) {
	_, _, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestNew_StdStreams(t *testing.T) {
	for _, out := range []string{"", "stdout", "stderr"} {
		log, closer, err := New(Config{Output: out})
		require.NoError(t, err)
		assert.NotNil(t, log)
		assert.NoError(t, closer.Close())
	}
}
