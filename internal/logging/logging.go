// Package logging adapts go.uber.org/zap's SugaredLogger to
// pkg/pipeline.Logger, the structured logging sink every package in
// this module is written against (pkg/orchestrator/types.go's
// Logger/NoOpLogger is the teacher's equivalent seam).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements pipeline.Logger (and, structurally, any other
// package's identically-shaped Logger interface) over a zap.SugaredLogger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger at the given level ("debug",
// "info", "warn", "error"; unrecognized values fall back to "info",
// matching config.py's LoggingConfig.level default of "INFO").
func New(level string) (*ZapLogger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: logger.Sugar()}, nil
}

// NewNop builds a logger that discards everything, useful for test
// binaries that still want the real adapter's shape.
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *ZapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

// Sync flushes any buffered log entries; callers should defer this in
// main after constructing a New logger.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }
