package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the application logger. Production gets JSON on stdout,
// everything else a colored console handler.
func New(env, level string) *slog.Logger {
	lvl := parseLevel(level)

	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	}

	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
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
