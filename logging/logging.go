// Package logging constructs the single zerolog.Logger the server
// passes down to every component, the way asch-bs3 wires
// github.com/rs/zerolog through its subsystems.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level, writing human-readable
// console output in development and compact JSON otherwise.
//
// levelName is one of "debug", "info", "warn", "error"; an unknown
// name falls back to "info".
func New(levelName string, pretty bool, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if w == nil {
		w = os.Stdout
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
