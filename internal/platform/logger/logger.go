package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON output so enforcement decisions are
// machine-parseable alongside the audit trail.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewOperational returns the stderr logger used for failures that must stay
// visible even when the primary sinks (audit log, stdout) are unavailable.
func NewOperational() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}
