package logutils

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// UTCFormatter is a log formatter that prints with UTC timestamps.
type UTCFormatter struct {
	logrus.Formatter
}

func (u *UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

func SetupTestLogging() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}})
}

// NewFormatter returns the formatter for TEXT or JSON, anything else falls back to TEXT.
func NewFormatter(logFormat string) logrus.Formatter {
	if strings.EqualFold(logFormat, "JSON") {
		return &UTCFormatter{Formatter: &logrus.JSONFormatter{}}
	}
	return &UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}}
}

func SetLogFormat(logFormat string) {
	logrus.SetFormatter(NewFormatter(logFormat))
}

// SetLogLevel accepts the logrus level names in any case, e.g. DEBUG or warn.
func SetLogLevel(logLevel string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(lvl)
	return nil
}
