// Package logx wraps zerolog the way the ambient stack of this repository
// uses it: pretty console output in interactive mode, structured JSON when
// asked for it, one shared logger injected into every component.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the shared structured logger type used across the core.
type Logger = zerolog.Logger

var base = New(Options{Format: "console", Level: zerolog.InfoLevel})

// Options configures the root logger.
type Options struct {
	Format string // "console" or "json"
	Level  zerolog.Level
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger per opts. Components should generally use
// base.With().Str("component", "...").Logger() via Named rather than
// calling New directly.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var writer io.Writer = out
	if opts.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(opts.Level)
	return zerolog.New(writer).With().Timestamp().Logger()
}

// Init replaces the package-level base logger; called once from cmd/fluxctl.
func Init(opts Options) {
	base = New(opts)
}

// Named returns a child logger tagged with the given component name,
// mirroring the teacher's per-package Debugf/Infof convention but as
// structured fields instead of string prefixes.
func Named(component string) Logger {
	return base.With().Str("component", component).Logger()
}
