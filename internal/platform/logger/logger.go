// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a new zerolog.Logger configured for the application. Level
// comes from CADENCE_LOG_LEVEL (default info); outside production the output
// is a human-readable console writer.
func New(serviceName string) zerolog.Logger {
	return build(serviceName, os.Getenv("CADENCE_LOG_LEVEL"), os.Getenv("CADENCE_ENVIRONMENT"), os.Stdout)
}

func build(serviceName, rawLevel, environment string, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if rawLevel != "" {
		if parsed, err := zerolog.ParseLevel(rawLevel); err == nil {
			level = parsed
		}
	}
	if environment != "production" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
