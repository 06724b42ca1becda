package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry that carries the service name on every line.
type Logger struct {
	*logrus.Entry
}

// NewLogger creates a JSON logger writing to stdout at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewLogger(serviceName, level string) *Logger {
	return newLogger(serviceName, level, os.Stdout)
}

func newLogger(serviceName, level string, out io.Writer) *Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)
	log.SetLevel(parseLevel(level))

	return &Logger{Entry: log.WithField("service", serviceName)}
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	return newLogger("discard", "error", io.Discard)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithRequestID adds request ID to logger
func (l *Logger) WithRequestID(requestID string) *logrus.Entry {
	return l.WithField("request_id", requestID)
}

// WithUserID adds user ID to logger
func (l *Logger) WithUserID(userID uint) *logrus.Entry {
	return l.WithField("user_id", userID)
}

// WithAttempt adds attempt ID to logger
func (l *Logger) WithAttempt(attemptID uint) *logrus.Entry {
	return l.WithField("attempt_id", attemptID)
}
