// Package logging constructs the structured logger shared across
// dispatcherd and workerd, grounded on the pack's logrus usage (e.g.
// dwarri-gazette/broker, gravitational-teleport) rather than a global
// package-level logger: every component receives its own *logrus.Entry via
// constructor injection instead of reaching for a package-global.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures the root logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	JSON   bool
}

// New builds a root logger and returns it tagged with a "process" field so
// dispatcherd and workerd logs are distinguishable when aggregated.
func New(process string, opts Options) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return l.WithField("process", process)
}
