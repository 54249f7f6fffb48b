// Package logging configures log/slog for the service.
//
// Request loggers pick up chi's request ID; operation and job loggers carry
// the identifiers that tie a log line to an import, export or scheduled run.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Structured field names shared across packages.
const (
	FieldRequestID   = "request_id"
	FieldOperationID = "operation_id"
	FieldEntity      = "entity"
	FieldJobID       = "job_id"
	FieldConfigID    = "config_id"
)

// Setup installs the default logger writing to stdout and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, level, format))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds a text or JSON handler for w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger, tagged with the chi request ID
// when ctx carries one.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With(FieldRequestID, reqID)
	}
	return logger
}

// WithFields returns the request logger with additional structured fields.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// ForOperation tags logger with an import or export operation.
func ForOperation(logger *slog.Logger, operationID, entityType string) *slog.Logger {
	return logger.With(FieldOperationID, operationID, FieldEntity, entityType)
}

// ForJob tags logger with a scheduled job and its config.
func ForJob(logger *slog.Logger, jobID, configID string) *slog.Logger {
	return logger.With(FieldJobID, jobID, FieldConfigID, configID)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
