package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"auction-logistics/internal/platform/config"
)

// Setup configures the global zerolog level and the zerolog/log logger for a
// service, and returns that logger.
func Setup(service string, cfg config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	return log.Logger
}

// Component returns a JSON logger tagged with a component name. It is safe to
// call from package initialisers; the level still follows Setup.
func Component(name string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("component", name).Logger()
}
