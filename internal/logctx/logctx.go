// Package logctx centralizes the structured logrus setup shared by the CLI
// and the library packages that accept an injectable logger, so every
// component logs through the same formatter and level.
package logctx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger with a text formatter tuned for terminal
// output: full timestamps, no forced colors (auto-detected from the
// terminal), and the given debug flag controlling verbosity.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// WithAction returns a logger scoped to one DFU action, for consistent
// fields across every log line emitted during it.
func WithAction(log logrus.FieldLogger, action, channel string) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"action":  action,
		"channel": channel,
	})
}
