package nativehook

import (
	"github.com/sirupsen/logrus"
)

var isDebug = false

var logger logrus.FieldLogger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug turns debug logging of hook operations on or off.
func SetDebug(x bool) {
	isDebug = x
	if l, ok := logger.(*logrus.Logger); ok {
		if x {
			l.SetLevel(logrus.DebugLevel)
		} else {
			l.SetLevel(logrus.InfoLevel)
		}
	}
}

// SetLogger replaces the package logger used by engines created afterwards
// without WithLogger.
func SetLogger(l logrus.FieldLogger) {
	logger = l
}
