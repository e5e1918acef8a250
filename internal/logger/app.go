package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewApp builds the application logger. pretty selects the console writer
// used by the CLI; the server logs JSON.
func NewApp(level string, pretty bool, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
