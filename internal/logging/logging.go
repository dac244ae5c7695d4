// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// EnvLogLevel selects the log level; unset or unrecognized means warn.
const EnvLogLevel = "TCMUX_LOG_LEVEL"

// Setup builds the root logger writing to stderr. Proxy dispatch relies
// on stdout being untouched, so nothing in tcmux may log to stdout.
func Setup() zerolog.Logger {
	level := zerolog.WarnLevel
	if s := os.Getenv(EnvLogLevel); s != "" {
		if l, err := zerolog.ParseLevel(s); err == nil {
			level = l
		}
	}

	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child of the root logger tagged with a component
// name, identifying the stage (resolve/fetch/verify/install/dispatch)
// in every message.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
