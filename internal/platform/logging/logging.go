package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. console selects the human-friendly writer;
// otherwise events are written as JSON lines. An unparseable level falls back
// to info.
func New(console bool, level string) zerolog.Logger {
	return newWithWriter(os.Stdout, console, level)
}

func newWithWriter(w io.Writer, console bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
