// Package logger builds zerolog loggers and carries them, together with the
// verification run ID, through a context.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level and output.
type Config struct {
	Level     string
	Output    string // stdout (default), stderr, file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

type contextKey string

const (
	loggerKey contextKey = "logger"
	runIDKey  contextKey = "run_id"
)

// New creates a JSON zerolog.Logger on stderr with the given level.
// If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	return NewFromConfig(Config{Level: level, Output: "stderr"})
}

// NewFromConfig creates a zerolog.Logger from a Config, selecting the
// writer based on cfg.Output:
//   - "file": rotating file via lumberjack
//   - "stderr": os.Stderr
//   - "stdout" or any other value: os.Stdout
func NewFromConfig(cfg Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer
	switch cfg.Output {
	case "file":
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxFiles,
			Compress:   true,
		}
	case "stderr":
		w = os.Stderr
	default:
		w = os.Stdout
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithRunID stores a verification run ID in the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run ID, or "" if none is set.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the logger stored in ctx with the run ID attached.
// Without a stored logger it returns a disabled logger: the library is
// silent unless the caller opts in.
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	if id := RunIDFromContext(ctx); id != "" {
		l = l.With().Str("run_id", id).Logger()
	}
	return l
}

// NewRunID generates a new UUID-based run ID.
func NewRunID() string {
	return uuid.New().String()
}
