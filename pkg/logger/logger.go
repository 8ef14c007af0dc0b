package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is a logrus logger carrying a fixed set of fields.
// Derived loggers share the parent's output and level.
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// Config holds logger configuration. File is required when Output is "file".
type Config struct {
	Level  string
	Format string
	Output string
	File   string
}

// New builds a logger from config. Unknown levels, formats and outputs are errors.
func New(config Config) (*Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := newFormatter(config.Format)
	if err != nil {
		return nil, err
	}
	output, err := openOutput(config.Output, config.File)
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(formatter)
	base.SetOutput(output)
	return &Logger{Logger: base, fields: logrus.Fields{}}, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch format {
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func openOutput(output, file string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if file == "" {
			return nil, fmt.Errorf("log output %q needs a file path", output)
		}
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, err
		}
		return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	default:
		return nil, fmt.Errorf("unknown log output %q", output)
	}
}

// WithField returns a logger with key set in addition to the current fields
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(logrus.Fields{key: value})
}

// WithFields returns a logger with fields merged over the current ones
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{Logger: l.Logger, fields: merged}
}

// WithError adds an error field. A nil error returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithFields(l.fields)
}

func (l *Logger) Debug(args ...interface{}) { l.entry().Debug(args...) }
func (l *Logger) Info(args ...interface{}) { l.entry().Info(args...) }
func (l *Logger) Warn(args ...interface{}) { l.entry().Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry().Error(args...) }

// Component tags entries with the emitting component
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

// ConnectionLogger tags entries with the client address of one connection
func (l *Logger) ConnectionLogger(remoteAddr string) *Logger {
	return l.WithFields(logrus.Fields{"client": remoteAddr, "component": "connection"})
}

// BackendLogger tags entries with the backend a request is relayed to
func (l *Logger) BackendLogger(backend string) *Logger {
	return l.WithFields(logrus.Fields{"backend": backend, "component": "backend"})
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base, fields: logrus.Fields{}}
}
