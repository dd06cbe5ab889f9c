package funcutils

import (
	log "github.com/sirupsen/logrus"
)

// LogOnErr calls f and logs its error as a warning, e.g. for deferred Close calls.
func LogOnErr(f func() error, format string, args ...any) {
	if err := f(); err != nil {
		log.WithError(err).Warnf(format, args...)
	}
}
