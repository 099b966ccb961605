// Package diag provides the leveled console diagnostics a run emits:
// zero-match pattern warnings, per-file checkout failures, a moved
// remote tip between Phase B and Phase C — all non-fatal conditions
// that shouldn't interrupt the run but do need surfacing.
package diag

import (
	"fmt"
	"io"
	"log"
)

// Level controls which severities a Logger actually emits.
type Level int

// Levels, most to least severe. Emitting a message at a Level lower
// than the Logger's configured Level is a no-op.
const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger emits leveled messages to an underlying stdlib log.Logger.
type Logger struct {
	out   *log.Logger
	level Level
}

// New creates a Logger writing to w, emitting anything at or above
// level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), level: level}
}

func (l *Logger) logf(lvl Level, prefix, format string, args ...interface{}) {
	if l == nil || lvl > l.level {
		return
	}
	l.out.Print(prefix, fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "error: ", format, args...)
}

// Warnf logs a warning-level message — the level used for zero-match
// patterns, moved remote tips, and per-file checkout failures.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "warn: ", format, args...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "info: ", format, args...)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "debug: ", format, args...)
}
