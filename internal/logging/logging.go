// Package logging sets up the global zerolog logger shared by the relay and the client.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a console logger on stderr at info level, early enough for config loading to log.
func Init() {
	InitWriter(os.Stderr)
}

func InitWriter(w io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel applies a configured level name. Unknown names keep info.
func SetLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}
