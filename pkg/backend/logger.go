package backend

import (
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// retryLogger routes retryablehttp's leveled logs into logrus. Its own
// request chatter is demoted to debug.
type retryLogger struct {
	log logrus.FieldLogger
}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (l retryLogger) with(keysAndValues []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return l.log.WithFields(fields)
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}
