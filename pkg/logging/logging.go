// Package logging builds the zerolog loggers shared by the acquisition
// components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger writing to w (stdout when nil). Debug output
// is enabled with verbose.
func New(w io.Writer, verbose bool) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w), FormatTimestamp: utcTimestamp}
	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}

// utcTimestamp renders the event time in UTC whatever the local zone.
func utcTimestamp(i interface{}) string {
	s, ok := i.(string)
	if !ok {
		return ""
	}
	t, err := time.Parse(zerolog.TimeFieldFormat, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339)
}

// Component tags a child logger the way the rig scripts tagged their output.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
