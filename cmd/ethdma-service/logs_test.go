package main

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger is a service.Logger that keeps every line by severity.
type recordingLogger struct {
	lines map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{lines: map[string][]string{}}
}

func (r *recordingLogger) add(sev string, v ...any) error {
	r.lines[sev] = append(r.lines[sev], fmt.Sprint(v...))
	return nil
}

func (r *recordingLogger) Error(v ...any) error   { return r.add("error", v...) }
func (r *recordingLogger) Warning(v ...any) error { return r.add("warning", v...) }
func (r *recordingLogger) Info(v ...any) error    { return r.add("info", v...) }

func (r *recordingLogger) Errorf(format string, a ...any) error {
	return r.add("error", fmt.Sprintf(format, a...))
}

func (r *recordingLogger) Warningf(format string, a ...any) error {
	return r.add("warning", fmt.Sprintf(format, a...))
}

func (r *recordingLogger) Infof(format string, a ...any) error {
	return r.add("info", fmt.Sprintf(format, a...))
}

func TestHookLogger(t *testing.T) {
	sl := newRecordingLogger()
	l := logrus.New()
	l.SetLevel(logrus.TraceLevel)
	hookLogger(l, sl)
	assert.Equal(t, io.Discard, l.Out)

	l.Error("ring stalled")
	l.Warn("receive process stopped")
	l.Info("link is up")
	l.Debug("frame dropped")
	l.Trace("descriptor returned")

	require.Len(t, sl.lines["error"], 1)
	assert.Contains(t, sl.lines["error"][0], "ring stalled")
	require.Len(t, sl.lines["warning"], 1)
	assert.Contains(t, sl.lines["warning"][0], "receive process stopped")
	require.Len(t, sl.lines["info"], 2)
	assert.Contains(t, sl.lines["info"][0], "link is up")
	assert.Contains(t, sl.lines["info"][1], "frame dropped")
}
