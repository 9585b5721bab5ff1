package vqgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with quantizer-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithFeatureSize adds a feature_size field to the logger.
func (l *Logger) WithFeatureSize(featureSize int) *Logger {
	return &Logger{
		Logger: l.Logger.With("feature_size", featureSize),
	}
}

// WithCodes adds a num_codes field to the logger.
func (l *Logger) WithCodes(numCodes int) *Logger {
	return &Logger{
		Logger: l.Logger.With("num_codes", numCodes),
	}
}

// LogForward logs a forward pass.
func (l *Logger) LogForward(ctx context.Context, vectors int, loss float32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "forward failed",
			"vectors", vectors,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "forward completed",
			"vectors", vectors,
			"loss", loss,
		)
	}
}

// LogReplacement logs a dead-code replacement.
func (l *Logger) LogReplacement(ctx context.Context, codes []int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "code replacement failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "codes replaced",
			"count", len(codes),
			"codes", codes,
		)
	}
}

// LogInit logs a codebook initialization.
func (l *Logger) LogInit(ctx context.Context, method string, vectors int, err error) {
	if err != nil {
		l.WarnContext(ctx, "codebook initialization failed",
			"method", method,
			"vectors", vectors,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "codebook initialized",
			"method", method,
			"vectors", vectors,
		)
	}
}
