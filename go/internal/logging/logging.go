// Package logging configures the global zerolog logger for the binaries.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. Console output is the default; json
// writes one object per line. debug lowers the level and changes nothing
// else.
func Setup(debug, json bool) {
	setup(os.Stderr, debug, json)
}

func setup(out io.Writer, debug, json bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if json {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
