package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var _log = logrus.New()

// Init configures the process logger. Debug mode switches to the text
// formatter; otherwise entries are JSON for log shippers.
func Init(debug bool, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)
	if debug {
		_log.SetLevel(logrus.DebugLevel)
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetLevel(logrus.InfoLevel)
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Log returns a base entry on the process logger.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns an entry carrying fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}

// ForComponent tags entries with the subsystem that produced them.
func ForComponent(name string) *logrus.Entry {
	return Log().WithField("component", name)
}
