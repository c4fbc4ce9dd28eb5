package annogo

import (
	"log/slog"
	"os"

	"github.com/hupe1980/annogo/model"
)

// Logger wraps slog.Logger with annogo-specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithAnnotation adds an annotation id field to the logger.
func (l *Logger) WithAnnotation(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("annotation", id),
	}
}

// WithKind adds an annotation kind field to the logger.
func (l *Logger) WithKind(kind model.Kind) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind.String()),
	}
}

// WithScale adds a spatial scale index field to the logger.
func (l *Logger) WithScale(scale int) *Logger {
	return &Logger{
		Logger: l.Logger.With("scale", scale),
	}
}

// WithSegment adds a segment id field to the logger.
func (l *Logger) WithSegment(segment model.SegmentID) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", uint64(segment)),
	}
}

// LogCommit logs the outcome of a commit request.
func (l *Logger) LogCommit(id string, deleted bool, err error) {
	if err != nil {
		l.Error("commit failed",
			"annotation", id,
			"delete", deleted,
			"error", err,
		)
	} else {
		l.Debug("commit confirmed",
			"annotation", id,
			"delete", deleted,
		)
	}
}

// LogChunkReceived logs registration of a freshly downloaded chunk.
func (l *Logger) LogChunkReceived(key string, bytes int) {
	l.Debug("chunk received",
		"chunk", key,
		"bytes", bytes,
	)
}
