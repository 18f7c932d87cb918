package utils

import (
	"go.uber.org/zap"
)

// Logger is a small key/value logging surface over a zap SugaredLogger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger builds a production zap logger. It falls back to a no-op logger
// if zap cannot be configured.
func NewLogger() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return NewNopLogger()
	}
	return &Logger{s: z.Sugar()}
}

func NewNopLogger() *Logger { return &Logger{s: zap.NewNop().Sugar()} }

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger { return &Logger{s: z.Sugar()} }

func (l *Logger) Debug(msg string, kv ...any) { l.sugar().Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar().Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar().Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar().Errorw(msg, kv...) }

// With returns a child logger that always carries the given pairs.
func (l *Logger) With(kv ...any) *Logger { return &Logger{s: l.sugar().With(kv...)} }

func (l *Logger) Sync() error { return l.sugar().Sync() }

func (l *Logger) sugar() *zap.SugaredLogger {
	if l == nil || l.s == nil {
		return zap.NewNop().Sugar()
	}
	return l.s
}
