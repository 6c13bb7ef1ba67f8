package config

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger monta o logger do processo a partir de LogConfig.
func NewLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	if strings.EqualFold(cfg.Format, "json") {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
