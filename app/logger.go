package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/evhttp/config"
)

// NewLogger builds the application logger: human readable console output
// or one JSON object per line, at the configured level.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("env", cfg.Env).
		Logger()
}
