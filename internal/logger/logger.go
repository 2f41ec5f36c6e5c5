// Package logger builds the zerolog loggers used by every binary and carries
// them through request and session contexts.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Config selects the log level and output format.
type Config struct {
	// Level is a zerolog level name ("debug", "info", ...). Empty means info.
	Level string `yaml:"level"`
	// Format is "console" for human output or "json". Empty means console.
	Format string `yaml:"format"`
}

// New returns an info-level console logger on stdout.
func New() zerolog.Logger {
	return NewWithConfig(Config{}, os.Stdout)
}

// NewWithConfig builds a logger writing to w according to cfg.
// An unknown level falls back to info.
func NewWithConfig(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Format == "" || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}

// NewWithWriter returns a JSON logger on w with no level filter.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or New() when there is none.
func FromContext(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return log
	}
	return New()
}

// WithSession tags the context logger with a session ID so every line logged
// while processing that session can be correlated.
func WithSession(ctx context.Context, sessionID string) context.Context {
	log := FromContext(ctx)
	return WithContext(ctx, log.With().Str("session_id", sessionID).Logger())
}
