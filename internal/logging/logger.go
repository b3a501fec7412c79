// Package logging wires go.uber.org/zap to the append-only, three-level
// sink the supervision engine assumes: each line
// "[unix_ts_seconds] LEVEL - message".
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the debug/info/error sink the core depends on. It is a thin
// wrapper so callers in internal/process, internal/program, and
// internal/manager never import zap directly.
type Logger struct {
	z *zap.SugaredLogger
}

// New opens (creating if absent) an append-only log file at path and
// returns a Logger writing "[unix_ts] LEVEL - message" lines to it.
func New(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening %s: %w", path, err)
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "M",
		LevelKey:         "L",
		TimeKey:          "T",
		EncodeLevel:      encodeLevel,
		EncodeTime:       encodeUnixSeconds,
		ConsoleSeparator: " ",
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), zapcore.DebugLevel)
	return &Logger{z: zap.New(core).Sugar()}, nil
}

// NewDiscard returns a Logger that drops everything; useful for tests.
func NewDiscard() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

func encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(levelName(level) + " -")
}

func levelName(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

func encodeUnixSeconds(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("[%d]", t.Unix()))
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.z.Debugf(format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.z.Infof(format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.z.Errorf(format, args...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
