package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	debug  bool
	logger *log.Logger
}

// NewLogger creates a new logger with a prefix. Debug output is enabled
// when LOG_LEVEL=debug.
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(prefix, os.Stdout)
}

// NewLoggerTo creates a new logger writing to the given destination.
func NewLoggerTo(prefix string, w io.Writer) *Logger {
	return &Logger{
		prefix: prefix,
		debug:  strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV("INFO", msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV("WARN", msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV("ERROR", msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.debug {
		return
	}
	l.logWithKV("DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level, msg string, keysAndValues ...interface{}) {
	kvStr := ""
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			kvStr += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
		}
	}
	l.logger.Printf("[%s] %s%s", level, msg, kvStr)
}
