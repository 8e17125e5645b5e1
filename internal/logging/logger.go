package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/awaistahir/solar-run/internal/config"
)

// Logger wraps slog.Logger with the service defaults attached.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from configuration. Unknown formats fall back to JSON,
// unknown outputs to stdout.
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, service, version, output)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(cfg config.LoggingConfig, service, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel accepts debug, info, warn and error; anything else is info
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

// With returns a child logger, e.g. logger.With("component", "planner")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Discard drops everything. Used by tests and by callers that pass no logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
