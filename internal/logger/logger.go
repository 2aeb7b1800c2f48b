package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Component   string
	Environment string
}

// Logger wraps slog.Logger so components can derive tagged children.
type Logger struct {
	*slog.Logger
}

func New(cfg Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	l := slog.New(h)
	if cfg.Component != "" {
		l = l.With("component", cfg.Component)
	}
	if cfg.Environment != "" {
		l = l.With("environment", cfg.Environment)
	}
	return &Logger{Logger: l}
}

// Nop discards everything; for tests.
func Nop() *Logger {
	return NewWithWriter(Config{Level: "error"}, io.Discard)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
