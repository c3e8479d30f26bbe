// internal/logger/pretty.go

package logger

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Colors for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// colorLevelEncoder formats log levels with colors
func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "[DEBUG]" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "[INFO]" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "[WARN]" + colorReset)
	case zapcore.ErrorLevel:
		enc.AppendString(colorRed + "[ERROR]" + colorReset)
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		enc.AppendString(colorRed + colorBold + "[" + level.CapitalString() + "]" + colorReset)
	default:
		enc.AppendString("[" + level.CapitalString() + "]")
	}
}

func clockTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}

// consoleEncoder returns the stdout encoder. With color on, levels are
// colored and timestamps shortened to the time of day; the file sink keeps
// the full encoder config either way.
func consoleEncoder(base zapcore.EncoderConfig, color bool) zapcore.Encoder {
	if !color {
		return zapcore.NewConsoleEncoder(base)
	}
	cfg := base
	cfg.EncodeLevel = colorLevelEncoder
	cfg.EncodeTime = clockTimeEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
