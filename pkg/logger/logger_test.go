package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInitWithConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"json stdout", Config{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", Config{Level: "debug", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitWithConfig(tt.config)
			require.NotNil(t, Log)
			assert.NotNil(t, WithComponent("flow"))
		})
	}
}

func TestInitWithConfig_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "waterwatch.log")

	InitWithConfig(Config{Level: "info", Format: "json", Output: "file", FilePath: logPath, MaxSize: 1})
	defer InitWithConfig(Config{Level: "info", Format: "json", Output: "stderr"})

	Info("recompute finished", "flowing", 3)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "recompute finished")
	assert.Contains(t, string(data), `"flowing":3`)
}
