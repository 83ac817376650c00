// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs a text handler on stderr. Verbose enables debug output.
func Init(verbose bool) {
	slog.SetDefault(New(os.Stderr, verbose))
}

// New returns a text logger writing to w.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
