// Package logger builds the JSON slog.Logger every reconciler component
// receives at construction time.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/paystream-reconciler/internal/config"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger creates the process-wide logger from the configured level.
// Unrecognized levels fall back to info. Debug level adds source locations,
// which helps when tracing a single record through the booking pipeline.
func NewLogger(cfg *config.Config) *slog.Logger {
	level, ok := levels[strings.ToLower(cfg.Logging.Level)]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	logger.Info("logger initialized", "level", level)

	return logger
}
