// Package logger builds the process-wide zerolog root logger. Every
// component gets a child of this logger, so one Config decides the format
// and level for the whole node.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the log level and output format.
type Config struct {
	Level  string // zerolog level name; anything unrecognized means info
	Format string // json or console
}

// New builds the root logger. A bad level name falls back to info instead
// of failing startup.
func New(cfg Config) zerolog.Logger {
	output := io.Writer(os.Stdout)
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}
