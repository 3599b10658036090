package parix

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with parix-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithRank adds the calling process rank to the logger.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{
		Logger: l.Logger.With("rank", rank),
	}
}

// WithPeer adds a peer rank field to the logger.
func (l *Logger) WithPeer(peer int) *Logger {
	return &Logger{
		Logger: l.Logger.With("peer", peer),
	}
}

// WithName adds a checkpoint name field to the logger.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("name", name),
	}
}

// LogRebuild logs a registry rebuild.
func (l *Logger) LogRebuild(ctx context.Context, peers int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"peers", peers,
		)
	}
}

// LogCheckpoint logs a checkpoint write.
func (l *Logger) LogCheckpoint(ctx context.Context, name string, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"name", name,
			"bytes", bytes,
		)
	}
}

// LogRestore logs a checkpoint restore.
func (l *Logger) LogRestore(ctx context.Context, name string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"name", name,
			"entries", entries,
		)
	}
}
