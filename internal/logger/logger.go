// Package logger provides leveled printf-style logging for debug, info, warn,
// and error levels. It is backed by logrus and can write to a rotating file.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the default logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	// Output is "stderr", "stdout", or a file path rotated by lumberjack.
	Output     string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

var defaultLogger *logrus.Logger

// Init initializes the default logger with the specified level and format,
// writing to stderr.
func Init(level string, format string) {
	_ = Setup(Options{Level: level, Format: format})
}

// Setup initializes the default logger from opts.
func Setup(opts Options) error {
	l := logrus.New()
	l.SetLevel(parseLevel(opts.Level))

	if strings.ToLower(opts.Format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}

	out, err := writer(opts)
	if err != nil {
		return err
	}
	l.SetOutput(out)

	defaultLogger = l
	return nil
}

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	if defaultLogger != nil {
		defaultLogger.SetOutput(w)
	}
}

func writer(opts Options) (io.Writer, error) {
	switch strings.ToLower(opts.Output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	if opts.MaxAgeDays < 0 || opts.MaxSizeMB < 0 || opts.MaxBackups < 0 {
		return nil, fmt.Errorf("invalid log rotation settings")
	}
	size := opts.MaxSizeMB
	if size == 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    size,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}, nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
	}
}

// Fatal logs a message and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Fatalf(format, args...)
	}
	fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	os.Exit(1)
}
