package test

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that discards everything unless TEST_LOGS is
// set. TEST_LOGS takes a logrus level name, or 2 for debug and 3 for trace.
// Any other value logs at info.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	l.SetLevel(levelOf(v))
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	return l
}

func levelOf(v string) logrus.Level {
	switch v {
	case "2":
		return logrus.DebugLevel
	case "3":
		return logrus.TraceLevel
	}
	if lvl, err := logrus.ParseLevel(v); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}
