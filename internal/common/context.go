package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRunID  contextKey = "run_id"
	ContextKeyFileID contextKey = "file_id"
)

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return ""
}

// WithFileID adds a file ID to the context
func WithFileID(ctx context.Context, fileID string) context.Context {
	return context.WithValue(ctx, ContextKeyFileID, fileID)
}

// FileIDFromContext extracts the file ID from context
func FileIDFromContext(ctx context.Context) string {
	if fileID, ok := ctx.Value(ContextKeyFileID).(string); ok {
		return fileID
	}
	return ""
}

// LoggerFromContext returns logger with the run and file IDs carried by ctx
// attached.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := RunIDFromContext(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	if id := FileIDFromContext(ctx); id != "" {
		logger = logger.With("file_id", id)
	}
	return logger
}
