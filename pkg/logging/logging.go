package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the process logger: human readable in development, JSON
// otherwise.
func New(env string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if env == "development" {
		level = zerolog.DebugLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Truncate shortens s to at most n bytes for logging request payloads.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
