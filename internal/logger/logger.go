package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/config"
)

// Init configures the global zerolog logger used by every package.
func Init(cfg config.LogConfig) *zerolog.Logger {
	return InitWriter(cfg, os.Stdout)
}

func InitWriter(cfg config.LogConfig, out io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("component", "bugatlas").Logger()
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.Level).Msg("Invalid log level, defaulting to info")
	}
	return &log.Logger
}
