package logger

import (
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// logrusLogger implements Logger using sirupsen/logrus.
type logrusLogger struct {
	log   *logrus.Logger
	entry *logrus.Entry
}

// NewLogrus creates a logger that writes formatted text to stderr.
func NewLogrus() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{log: l, entry: logrus.NewEntry(l)}
}

// NewLogrusWithFileRotation creates a logger that writes to stderr and
// additionally to filePath with daily rotation; rotated files are kept
// for seven days and filePath is maintained as a symlink to the
// current file.
func NewLogrusWithFileRotation(filePath string, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	writer, err := rotatelogs.New(
		filePath+".%Y%m%d",
		rotatelogs.WithLinkName(filePath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err == nil {
		l.AddHook(lfshook.NewHook(lfshook.WriterMap{
			logrus.DebugLevel: writer,
			logrus.InfoLevel:  writer,
			logrus.WarnLevel:  writer,
			logrus.ErrorLevel: writer,
			logrus.FatalLevel: writer,
		}, &logrus.JSONFormatter{}))
	} else {
		l.Warn("failed to set up log file rotation: ", err)
	}

	return &logrusLogger{log: l, entry: logrus.NewEntry(l)}
}

// NewNoOp creates a logger that discards everything. Used by tests.
func NewNoOp() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{log: l, entry: logrus.NewEntry(l)}
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(name string) logrus.Level {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (l *logrusLogger) SetToDebug() { l.log.SetLevel(logrus.DebugLevel) }
func (l *logrusLogger) SetToInfo()  { l.log.SetLevel(logrus.InfoLevel) }
func (l *logrusLogger) SetToError() { l.log.SetLevel(logrus.ErrorLevel) }

// Module returns a logger namespaced under ns.
func (l *logrusLogger) Module(ns string) Logger {
	return &logrusLogger{log: l.log, entry: l.entry.WithField("module", ns)}
}

func (l *logrusLogger) Debug(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Error(msg)
}

func (l *logrusLogger) Fatal(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Fatal(msg)
}

// toFields converts alternating key/value arguments to logrus fields.
// A trailing key with no value is kept with a nil value rather than
// dropped.
func toFields(keyValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(keyValues) {
			fields[key] = keyValues[i+1]
		} else {
			fields[key] = nil
		}
	}
	return fields
}
