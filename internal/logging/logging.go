package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"qrfare/backend/internal/config"
)

// Cleanup releases the log file, if one was opened.
type Cleanup func() error

// New builds the process logger. Output always goes to stdout and is teed
// into cfg.File when set. Every record carries the service name.
func New(cfg config.LoggingConfig, service string) (*slog.Logger, Cleanup, error) {
	handlerOptions := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: true,
	}

	out := io.Writer(os.Stdout)
	var file *os.File
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		file = f
		out = io.MultiWriter(os.Stdout, file)
	}

	logger := slog.New(newHandler(out, cfg.Format, handlerOptions))
	if service != "" {
		logger = logger.With("service", service)
	}
	cleanup := func() error {
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, cleanup, nil
}

// Discard returns a logger that drops every record. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
