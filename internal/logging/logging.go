// Package logging wires the process-wide zerolog logger the rest of the
// engine logs through, the way the teacher's server packages reach for
// github.com/rs/zerolog/log directly.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from a level name such as
// "debug", "info", "warn" or "error". Unknown or empty levels fall back to
// info. pretty selects a human-readable console writer (for local runs);
// when false, logs are newline-delimited JSON suited to log aggregation.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stderr
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}
