package docgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with docgo-specific context.
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

// LogCommit logs a transaction commit.
func (l *Logger) LogCommit(ctx context.Context, txID uint64, operations int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"tx_id", txID,
			"operations", operations,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"tx_id", txID,
			"operations", operations,
		)
	}
}

// LogRollback logs a transaction rollback.
func (l *Logger) LogRollback(ctx context.Context, txID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rollback failed",
			"tx_id", txID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "rollback completed",
			"tx_id", txID,
		)
	}
}

// LogFind logs an indexed lookup.
func (l *Logger) LogFind(ctx context.Context, collection, field string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find failed",
			"collection", collection,
			"field", field,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find completed",
			"collection", collection,
			"field", field,
			"results", results,
		)
	}
}

// LogFlush logs a manual checkpoint.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed")
	}
}

// LogRecovery logs a WAL recovery pass.
func (l *Logger) LogRecovery(ctx context.Context, transactionsReplayed uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "WAL recovery failed",
			"transactions_replayed", transactionsReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "WAL recovery completed",
			"transactions_replayed", transactionsReplayed,
		)
	}
}

// LogBackup logs a backup run.
func (l *Logger) LogBackup(ctx context.Context, name string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup completed",
			"name", name,
			"bytes", bytes,
		)
	}
}

// LogRestore logs a restore run.
func (l *Logger) LogRestore(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"name", name,
		)
	}
}
