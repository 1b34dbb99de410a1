// Package logging provides the structured slog logger every pipeline
// process — a producer run or a single stage consumer — logs through.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// Op returns the process-wide logger as InitStructured last configured
// it (or the text/info default, before that).
func Op() *slog.Logger {
	return opLogger.Load()
}

// Named returns Op() tagged with the calling component's identity: a
// project name for the producer, or a stage handler's name
// ("Download\HTTP", "Analysis\CVSAnaly", ...) for a consumer. cmd/pipeline
// attaches one of these to every Deps it builds, so log lines from a
// shared RabbitMQ/MySQL config can still be told apart by which stage or
// producer run emitted them.
func Named(component string) *slog.Logger {
	return Op().With("component", component)
}

// SetLevel changes the level of the process-wide logger directly.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the level from config's Logging.Level string.
// An unrecognised value leaves the current level unchanged.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

// InitStructured reconfigures the process-wide logger from config.
// format: "text" (default) or "json". level: "debug", "info", "warn", "error".
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	opLogger.Store(slog.New(handler))
}
