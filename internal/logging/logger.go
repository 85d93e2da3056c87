package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level orders log severities
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger provides structured logging for the pipeline workers
type Logger struct {
	prefix string
	logger *log.Logger
	level  Level
	fields []interface{}
}

// NewLogger creates a new logger with a prefix writing to stdout
func NewLogger(prefix string) *Logger {
	return New(os.Stdout, prefix)
}

// New creates a logger writing to w
func New(w io.Writer, prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(w, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		level:  LevelInfo,
	}
}

// SetLevel drops messages below level
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Named returns a logger for another component that shares l's writer and level
func (l *Logger) Named(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.New(l.logger.Writer(), fmt.Sprintf("[%s] ", prefix), l.logger.Flags()),
		level:  l.level,
	}
}

// With returns a child logger that prepends keysAndValues to every line
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)
	return &Logger{
		prefix: l.prefix,
		logger: l.logger,
		level:  l.level,
		fields: fields,
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelInfo, "INFO", msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelWarn, "WARN", msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelError, "ERROR", msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(LevelDebug, "DEBUG", msg, keysAndValues...)
}

func (l *Logger) logWithKV(level Level, name, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}
	var b strings.Builder
	writeKV(&b, l.fields)
	writeKV(&b, keysAndValues)
	l.logger.Printf("[%s] %s%s", name, msg, b.String())
}

func writeKV(b *strings.Builder, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
}
