package utils

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Engine components receive it as a
// logrus.FieldLogger so tests can swap it for Discard().
var Log = logrus.New()

// SetLogLevel configures Log from a CLI flag value.
func SetLogLevel(level string) error {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "info":
		Log.SetLevel(logrus.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		Log.SetLevel(logrus.FatalLevel)
	default:
		return fmt.Errorf("bad log level %q", level)
	}
	return nil
}

// Discard returns a logger that drops everything.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}
