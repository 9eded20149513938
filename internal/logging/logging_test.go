package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	assert.True(t, strings.HasSuffix(path, filepath.Join(".swiftsearch", "logs", "mediator.log")))
	assert.Equal(t, DefaultLogDir(), filepath.Dir(path))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a config pointing at a temp file, stderr disabled
	path := filepath.Join(t.TempDir(), "logs", "mediator.log")
	cfg := Config{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxFiles: 2}

	// When: logging through the returned logger
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Debug("command_dropped", slog.String("method", "search"))
	cleanup()

	// Then: the file holds one JSON record with our attributes
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "command_dropped", rec["msg"])
	assert.Equal(t, "search", rec["method"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediator.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := setup(Config{}, nil)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, logger)
	logger.Info("goes nowhere")
}

func TestSetup_FanoutToStderrAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mediator.log")
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)
	defer stderr.Close()

	logger, cleanup, err := setup(Config{Level: "info", FilePath: path, WriteToStderr: true}, stderr)
	require.NoError(t, err)
	logger.With(slog.Int("request_id", 7)).Info("reply_sent")
	cleanup()

	fileData, err := os.ReadFile(path)
	require.NoError(t, err)
	stderrData, err := os.ReadFile(stderr.Name())
	require.NoError(t, err)

	assert.Contains(t, string(fileData), `"request_id":7`)
	// Not a terminal, so stderr also gets JSON
	assert.Contains(t, string(stderrData), `"request_id":7`)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFromString(tt.in))
		})
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer with a 1MB limit
	path := filepath.Join(t.TempDir(), "mediator.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")

	// When: writing past the limit twice
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)

	// Then: rolled files exist and the live file holds only the last chunk
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediator.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	chunk := []byte(strings.Repeat("y", 700*1024))
	for i := 0; i < 5; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_CloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediator.log")
	w, err := NewRotatingWriter(path, 1, 1)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Sync())
}
