// Package logger sets up structured JSON logging with log/slog.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Init creates a JSON logger for service at level, installs it as the
// slog default and returns it.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init writing to w.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)
	return logger
}
