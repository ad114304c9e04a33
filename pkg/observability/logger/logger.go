package logger

import (
	"context"
)

// Logger defines the interface for structured logging throughout the engine.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger that extracts the job ID from context
	WithContext(ctx context.Context) Logger
}

type contextKey string

const jobIDContextKey contextKey = "job_id"

// ContextWithJobID returns a context carrying a job ID so downstream log
// entries can be correlated with the job being processed.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDContextKey, jobID)
}

// JobIDFromContext extracts the job ID previously stored with ContextWithJobID.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if jobID, ok := ctx.Value(jobIDContextKey).(string); ok {
		return jobID
	}
	return ""
}
