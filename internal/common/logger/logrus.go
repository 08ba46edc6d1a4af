package logger

import (
	"io"

	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/sirupsen/logrus"
)

// ComponentLogger tags every entry with the component that wrote it
type ComponentLogger struct {
	*logrus.Logger
	component string
}

// New creates a new logrus logger with standard configuration.
// Production runs log JSON so the output can be shipped as is.
func New(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	level := logrus.Level(cfg.App.LogLevel)
	if level > logrus.TraceLevel {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.App.Env == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			ForceColors:   true,
			FullTimestamp: true,
		})
	}

	return log
}

// Discard returns a logger that drops everything, handy in tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewComponentLogger creates a logger with a component field
func NewComponentLogger(log *logrus.Logger, component string) *ComponentLogger {
	return &ComponentLogger{
		Logger:    log,
		component: component,
	}
}

// Entry returns an entry carrying only the component field
func (c *ComponentLogger) Entry() *logrus.Entry {
	return c.Logger.WithField("component", c.component)
}

// WithField adds a field to the log entry
func (c *ComponentLogger) WithField(key string, value interface{}) *logrus.Entry {
	return c.Logger.WithFields(logrus.Fields{
		"component": c.component,
		key:         value,
	})
}

// WithFields adds multiple fields to the log entry, always including component
func (c *ComponentLogger) WithFields(fields logrus.Fields) *logrus.Entry {
	if _, exists := fields["component"]; !exists {
		fields["component"] = c.component
	}
	return c.Logger.WithFields(fields)
}

// WithError adds an error field to the log entry
func (c *ComponentLogger) WithError(err error) *logrus.Entry {
	return c.Logger.WithFields(logrus.Fields{
		"component": c.component,
		"error":     err,
	})
}
