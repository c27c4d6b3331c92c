package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the level and encoding of a Logger.
type Options struct {
	Level  string
	Format string
}

// Logger writes structured log lines. Arguments after the message are
// alternating keys and values.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a Logger. Format "console" gives human readable output;
// anything else gives JSON.
func NewLogger(opts Options) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a Logger that adds keyvals to every line.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, keyvals ...any) {
	l.sugar.Infow(msg, keyvals...)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, keyvals ...any) {
	l.sugar.Warnw(msg, keyvals...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, keyvals ...any) {
	l.sugar.Errorw(msg, keyvals...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...any) {
	l.sugar.Debugw(msg, keyvals...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
