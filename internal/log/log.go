// Package log provides the agent's package-level structured logger.
//
// The agent runs inside a target process it does not own, so the
// logger defaults to a quiet production configuration; PROBING_LOGLEVEL
// raises or lowers verbosity without requiring a restart of the host.
package log

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	logger = newLogger("")
}

// newLogger builds a zap logger whose level is controlled by level
// (one of debug/info/warn/error, case-insensitive; empty defaults to
// info). Output goes to stderr so it never collides with a target
// process's own stdout.
func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build()
	if err != nil {
		// Fall back to a logger that can never fail to construct.
		l = zap.NewNop()
	}
	return l
}

// Init rebuilds the global logger at the given level, per the
// PROBING_LOGLEVEL environment variable read during agent bootstrap.
func Init(level string) {
	logger = newLogger(level)
}

// Logger returns the global logger.
func Logger() *zap.Logger { return logger }

// SetLogger replaces the global logger, primarily for tests.
func SetLogger(l *zap.Logger) { logger = l }

func Debug(msg string, fields ...zap.Field) { logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger.Error(msg, fields...) }

// With returns a logger with additional fields.
func With(fields ...zap.Field) *zap.Logger { return logger.With(fields...) }

// Sync flushes any buffered log entries.
func Sync() error { return logger.Sync() }
