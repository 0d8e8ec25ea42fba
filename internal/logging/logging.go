// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Level maps a configured verbosity name to a slog level. Unrecognized
// names keep logging restricted to errors only.
func Level(name string) slog.Level {
	switch name {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelError
	}
}

// Setup installs a tinted handler on stderr at the given verbosity and
// returns the logger. It also replaces slog's default logger so that
// stray slog calls end up on the same stream.
func Setup(levelName string) *slog.Logger {
	return SetupWriter(os.Stderr, levelName)
}

// SetupWriter is Setup with an explicit output, used by tests.
func SetupWriter(w io.Writer, levelName string) *slog.Logger {
	log := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      Level(levelName),
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)
	return log
}
