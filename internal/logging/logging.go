// Package logging wires every long-lived task to a shared
// *logrus.Logger with consistent fields, the same shape the teacher's
// server_linux.go threads a *log.Logger through linux.NewHCI.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger for the process. areaID and enabled mirror
// the fields every config.Config carries; when enabled is false the
// logger writes to io.Discard so call sites never need their own
// enabled checks.
func New(areaID string, enabled bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if !enabled {
		l.SetOutput(io.Discard)
		return l
	}
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Component returns a logger entry scoped to one subsystem, e.g.
// "scanner.bredr" or "gateway".
func Component(l *logrus.Logger, areaID, component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"area_id":   areaID,
		"component": component,
	})
}
