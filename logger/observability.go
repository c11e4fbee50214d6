package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured JSON logging for the relay.
type ObservabilityLogger struct {
	logger *logrus.Logger
}

// Component constants for consistent labeling
const (
	ComponentConfig    = "config"
	ComponentRateLimit = "rate_limit"
	ComponentDispatch  = "dispatch"
	ComponentServer    = "server"
)

// Category constants for log classification
const (
	CategoryStartup = "startup"
	CategoryRequest = "request"
	CategorySuccess = "success"
	CategoryWarning = "warning"
	CategoryError   = "error"
	CategoryHealth  = "health"
	CategoryBlocked = "blocked"
)

// NewObservabilityLogger creates a structured logger writing JSON lines to out.
// The level string accepts DEBUG, INFO, WARN, ERROR (case-insensitive);
// anything else falls back to INFO.
func NewObservabilityLogger(out io.Writer, level string) *ObservabilityLogger {
	if out == nil {
		out = os.Stdout
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	l.SetLevel(parseLevel(level))

	return &ObservabilityLogger{logger: l}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// createEntry creates a logrus entry with the standard fields
func (o *ObservabilityLogger) createEntry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   "assistant-relay",
		"component": component,
		"category":  category,
	})

	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Error(message)
}
