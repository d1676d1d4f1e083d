// Package logging wraps logrus with the session-scoping the control
// protocol handler needs: every line a session emits carries its
// remote address and session id without the call site repeating them.
package logging

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the structured sink named as an external collaborator by
// the logger contract: Info/Warn/Error/Debug/Trace, plus per-session
// scoping via WithSession.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error", "trace"). An unrecognized level falls back to info.
func New(level string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &Logger{entry: logrus.NewEntry(base)}
}

// NewWithOutput is New but directs output at w, used by tests that want
// to capture log lines instead of printing them.
func NewWithOutput(level string, w io.Writer) *Logger {
	l := New(level)
	l.entry.Logger.SetOutput(w)
	return l
}

// WithSession returns a Logger scoped to one control connection.
func (l *Logger) WithSession(id uuid.UUID, remote string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{
		"session_id": id.String(),
		"remote":     remote,
	})}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Trace(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
