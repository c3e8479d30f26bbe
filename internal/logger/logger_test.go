package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	cfg := DefaultConfig()
	cfg.File = path
	cfg.Compress = false

	l, err := New(cfg)
	require.NoError(t, err)
	l.WithComponent("test").Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = ""
	cfg.Level = "chatty"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestTerminalSyncErrors(t *testing.T) {
	assert.True(t, isTerminalSyncError(errors.New("sync /dev/stdout: invalid argument")))
	assert.False(t, isTerminalSyncError(errors.New("disk full")))
}

func TestConsoleEncoderColor(t *testing.T) {
	entry := zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Time:    time.Date(2024, 6, 1, 12, 30, 15, 0, time.UTC),
		Message: "sweep slow",
	}

	buf, err := consoleEncoder(zap.NewProductionEncoderConfig(), true).EncodeEntry(entry, nil)
	require.NoError(t, err)
	line := buf.String()
	assert.Contains(t, line, colorYellow+"[WARN]"+colorReset)
	assert.Contains(t, line, "12:30:15.000")
	assert.Contains(t, line, "sweep slow")

	buf, err = consoleEncoder(zap.NewProductionEncoderConfig(), false).EncodeEntry(entry, nil)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), colorReset)
}
