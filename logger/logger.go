// Package logger builds the zap loggers used by cryocycle
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stdout at level.
// Debug level loggers also record the caller.
func New(level zapcore.Level) *zap.SugaredLogger {
	return NewWriter(os.Stdout, level)
}

// NewWriter is New with output to w
func NewWriter(w io.Writer, level zapcore.Level) *zap.SugaredLogger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		NameKey:          "logger",
		CallerKey:        "caller",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "  ",
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	var opts []zap.Option
	if level <= zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...).Sugar()
}

// ParseLevel converts a level name to a zap level with zapcore.ParseLevel,
// accepting "warning" for warn.  An empty name is info; an unknown one is
// info and ok is false.
func ParseLevel(s string) (level zapcore.Level, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, false
	}
	return level, true
}
