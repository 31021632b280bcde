// Package util provides low-level helpers shared by all other packages.
package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// logrusLevel maps a verbosity onto the logrus threshold.
func (l LogLevel) logrusLevel() logrus.Level {
	switch {
	case l <= LogQuiet:
		return logrus.ErrorLevel
	case l == LogNormal:
		return logrus.InfoLevel
	case l == LogVerbose:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Child loggers created with [Logger.With] share
// the parent's output and level.
//
// A nil *Logger discards everything.
type Logger struct {
	level LogLevel
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	level := LogLevel(verbosity)
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(level.logrusLevel())
	base.SetFormatter(&prefixFormatter{
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	})
	return &Logger{level: level, base: base, entry: logrus.NewEntry(base)}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	if l == nil {
		return
	}
	if f, ok := l.base.Formatter.(*prefixFormatter); ok {
		f.timestamps = on
	}
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil {
		return
	}
	l.base.SetOutput(w)
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogQuiet
	}
	return l.level
}

// With returns a child logger that appends key=value to every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{level: l.level, base: l.base, entry: l.entry.WithField(key, value)}
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Infof(format, args...)
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Warnf(format, args...)
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Tracef(format, args...)
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Errorf(format, args...)
}

// ── formatting ───────────────────────────────────────────────────────

var levelTags = map[logrus.Level]string{
	logrus.PanicLevel: "ERR",
	logrus.FatalLevel: "ERR",
	logrus.ErrorLevel: "ERR",
	logrus.WarnLevel:  "WRN",
	logrus.InfoLevel:  "INF",
	logrus.DebugLevel: "VRB",
	logrus.TraceLevel: "DBG",
}

// prefixFormatter renders "[INF] message key=value" lines, optionally
// preceded by a wall-clock timestamp.
type prefixFormatter struct {
	timestamps bool
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	if f.timestamps {
		b.WriteString(e.Time.Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s] %s", levelTags[e.Level], e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
