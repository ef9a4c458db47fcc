// Package logging builds the zerolog logger shared by the command line tools.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config interface {
	GetEnv() string
	GetLogLevel() string
}

// New returns a console logger in DEV and a JSON logger everywhere else.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.GetEnv() == "DEV" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: w != os.Stderr}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
