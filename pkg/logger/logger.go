package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var defaultLogger *logrus.Logger

// fileSink is the rotating log file, if one is configured
var fileSink *lumberjack.Logger

func init() {
	defaultLogger = logrus.New()

	isTest := os.Getenv("GO_ENV") == "test"

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		if isTest {
			logLevel = "silent"
		} else {
			logLevel = "info"
		}
	}

	defaultLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	// stdout carries the stdio MCP stream, so log lines go to stderr
	defaultLogger.SetOutput(os.Stderr)

	if logLevel == "silent" {
		defaultLogger.SetOutput(io.Discard)
	} else {
		level, err := logrus.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			level = logrus.InfoLevel
		}
		defaultLogger.SetLevel(level)
	}
}

// GetLogger returns the default logger instance
func GetLogger() *logrus.Logger {
	return defaultLogger
}

// WithName creates a child logger with a name field
func WithName(name string) *logrus.Entry {
	return defaultLogger.WithField("name", name)
}

// WithFields creates a logger with additional fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return defaultLogger.WithFields(fields)
}

// SetLevel sets the logging level
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// IsLevelEnabled checks if a log level is enabled
func IsLevelEnabled(level logrus.Level) bool {
	return defaultLogger.IsLevelEnabled(level)
}

// ConfigureFromString configures the logger from a string level
// This is useful for applying configuration from config files
func ConfigureFromString(levelStr string) error {
	// Test mode takes precedence
	if os.Getenv("GO_ENV") == "test" {
		defaultLogger.SetOutput(io.Discard)
		return nil
	}

	if levelStr == "silent" {
		defaultLogger.SetOutput(io.Discard)
		return nil
	}

	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return err
	}
	defaultLogger.SetLevel(level)
	return nil
}

// FileOptions configures the rotating file sink
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ConfigureFile tees log output into a size-rotated file. The current output
// (stderr, or discard when silent) keeps receiving entries as well.
func ConfigureFile(opts FileOptions) {
	if opts.Path == "" {
		return
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if fileSink != nil {
		fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	current := defaultLogger.Out
	if current == io.Discard {
		defaultLogger.SetOutput(fileSink)
		return
	}
	defaultLogger.SetOutput(io.MultiWriter(current, fileSink))
}

// Close flushes and closes the file sink, if any
func Close() error {
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	return err
}
