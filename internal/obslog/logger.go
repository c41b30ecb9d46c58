// Package obslog provides the search core's logging abstraction: a small
// Logger interface with leveled, structured (field-map) methods, a stderr
// backed StandardLogger, and a NoopLogger for tests.
package obslog

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Level is a logging severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Fields is a structured-logging field map.
type Fields map[string]any

// Logger is the logging interface used throughout the search core.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	With(fields Fields) Logger
	WithPrefix(prefix string) Logger
}

// StandardLogger writes leveled, field-annotated lines to stderr.
type StandardLogger struct {
	prefix string
	level  Level
	fields Fields
	out    *log.Logger
}

// New creates a StandardLogger at LevelInfo writing to stderr.
func New(prefix string) Logger {
	if prefix == "" {
		prefix = "searchcore"
	}
	return &StandardLogger{prefix: prefix, level: LevelInfo, out: log.New(os.Stderr, "", 0)}
}

// WithLevel returns a copy of the logger at the given minimum level.
func (l *StandardLogger) WithLevel(level Level) *StandardLogger {
	cp := *l
	cp.level = level
	return &cp
}

func (l *StandardLogger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }
func (l *StandardLogger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields) }
func (l *StandardLogger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields) }
func (l *StandardLogger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }

func (l *StandardLogger) With(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: merged, out: l.out}
}

func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level, fields: l.fields, out: l.out}
}

func (l *StandardLogger) log(level Level, msg string, fields Fields) {
	if levelRank[level] < levelRank[l.level] {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	line := fmt.Sprintf("%s [%s] [%s] %s", ts, level, l.prefix, msg)
	line += formatFields(l.fields)
	line += formatFields(fields)
	l.out.Println(line)
}

func formatFields(fields Fields) string {
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

// NoopLogger discards everything; used by default in tests.
type NoopLogger struct{}

func (NoopLogger) Debug(string, Fields)       {}
func (NoopLogger) Info(string, Fields)        {}
func (NoopLogger) Warn(string, Fields)        {}
func (NoopLogger) Error(string, Fields)       {}
func (l NoopLogger) With(Fields) Logger       { return l }
func (l NoopLogger) WithPrefix(string) Logger { return l }
