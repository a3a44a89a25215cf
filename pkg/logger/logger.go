package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a slog.Logger configured for the given service name. Output goes
// to stderr so it never interleaves with operator-facing output on stdout.
func New(service string, level slog.Level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, service, level, format)
}

// NewWithWriter returns a logger writing to w in the requested format ("json" or "text").
func NewWithWriter(w io.Writer, service string, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", service)
}

// ParseLevel maps a level name to a slog.Level, falling back when unknown.
func ParseLevel(name string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
