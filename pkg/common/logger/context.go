package logger

import (
	"context"
	"sync"
)

// LoggerContext wraps a Logger with a mutable set of attributes that can be
// accumulated over the lifetime of an operation. It is safe for concurrent
// use, unlike chaining Logger.With calls across goroutines.
type LoggerContext struct {
	mu     sync.RWMutex
	logger *Logger
	attrs  []any
}

// NewLoggerContext creates a LoggerContext wrapping the provided Logger.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends key/value pairs to the set of attributes included in every
// subsequent log call.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.attrs = append(lc.attrs, args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	lc.logger.Debugc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	lc.logger.Infoc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	lc.logger.Warnc(ctx, 4, msg, append(lc.attrs, args...)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	lc.logger.Errorc(ctx, 4, msg, append(lc.attrs, args...)...)
}
