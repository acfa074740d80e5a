// Package log provides the process-wide structured logger used by every
// other package in dispatchd. It wraps log/slog with a small set of
// component-scoped helpers so call sites never construct their own
// handler.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	once.Do(func() {
		var l slog.Level
		switch strings.ToUpper(level) {
		case "DEBUG":
			l = slog.LevelDebug
		case "WARN":
			l = slog.LevelWarn
		case "ERROR":
			l = slog.LevelError
		default:
			l = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{
			Level: l,
		}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithBucket returns a logger with the bucket field set.
func WithBucket(id string) *slog.Logger {
	return Get().With(slog.String("bucket", id))
}

// WithChild returns a logger with the child pid field set.
func WithChild(pid int) *slog.Logger {
	return Get().With(slog.Int("pid", pid))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Crit logs a CRIT-severity event. slog has no CRIT level; this is
// modeled as ERROR with a crit=true attribute so log pipelines can
// filter on it the way a required-callback failure or fork failure
// demands operator attention.
func Crit(msg string, args ...any) {
	Get().Error(msg, append([]any{slog.Bool("crit", true)}, args...)...)
}
