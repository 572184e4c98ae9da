// Package logger provides structured logging for walletcore components.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger. Every component receives its
// own instance so log lines always carry the originating component name.
type Logger struct {
	backend *logrus.Logger
	entry   *logrus.Entry
}

// New creates a logger for the named component at the given level.
func New(component string, level logrus.Level) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)
	backend.SetLevel(level)
	backend.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return &Logger{
		backend: backend,
		entry:   backend.WithField("component", component),
	}
}

// NewDefault creates a logger for the named component. The level defaults to
// info and may be overridden with the LOG_LEVEL environment variable.
func NewDefault(component string) *Logger {
	level := logrus.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return New(component, level)
}

// SetOutput redirects the logger output. Used by tests to silence logging.
func (l *Logger) SetOutput(w io.Writer) {
	l.backend.SetOutput(w)
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level logrus.Level) {
	l.backend.SetLevel(level)
}

// WithField returns an entry with an additional field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// WithFields returns an entry with the given fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	return l.entry.WithFields(fields)
}

// WithError returns an entry carrying the error under the standard error key.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry.WithError(err)
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
