// Package telemetry provides the ambient observability surface: structured
// logging setup and the prometheus collectors the orchestrator feeds.
package telemetry

import (
	"io"
	"log/slog"
	"os"
)

// LogLevel reads the log level from the LOG_LEVEL environment variable.
// Recognized values: DEBUG, INFO, WARN, ERROR. Defaults to INFO.
func LogLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a structured logger writing to w.
//
// LOG_FORMAT selects the handler: "json" for machine consumption, anything
// else gets the text handler. Diagnostic output belongs on stderr so JSON
// command output stays clean.
func NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used as the default in
// library constructors and in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithRun returns a logger scoped to one scenario run.
func WithRun(logger *slog.Logger, runID, scenarioName string) *slog.Logger {
	return logger.With("run_id", runID, "scenario", scenarioName)
}
