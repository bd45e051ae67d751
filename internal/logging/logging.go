// Package logging builds the structured loggers shared by upkgt components.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures a logger.
type Options struct {
	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer

	// Verbose lowers the level to debug.
	Verbose bool

	// Prefix is shown before every message.
	Prefix string
}

// New creates a logger with the given options.
func New(opts Options) *log.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Ensure returns l when non-nil, otherwise a discarding logger.
func Ensure(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return Discard()
}
