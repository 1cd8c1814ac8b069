// Package monitoring carries the process-wide diagnostic logger. Output
// always goes to stderr so stdout stays free for encoded sample data.
package monitoring

import (
	"log"
	"os"
	"sync/atomic"
)

// Log levels, matching the -l/--loglevel flag.
const (
	LevelNone = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelSpew
)

var std = log.New(os.Stderr, "sigcap: ", 0)

// Logf is the package-level diagnostic logger. It defaults to a stderr logger
// but may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = std.Printf

var level atomic.Int32

func init() { level.Store(LevelWarn) }

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLevel sets the threshold for the leveled helpers. Values outside
// LevelNone..LevelSpew are clamped.
func SetLevel(l int) {
	switch {
	case l < LevelNone:
		l = LevelNone
	case l > LevelSpew:
		l = LevelSpew
	}
	level.Store(int32(l))
}

// Level returns the current threshold.
func Level() int { return int(level.Load()) }

// Enabled reports whether messages at l are emitted.
func Enabled(l int) bool { return l > LevelNone && l <= Level() }

func logAt(l int, prefix, format string, v []interface{}) {
	if !Enabled(l) {
		return
	}
	Logf(prefix+format, v...)
}

func Errorf(format string, v ...interface{}) { logAt(LevelError, "error: ", format, v) }
func Warnf(format string, v ...interface{})  { logAt(LevelWarn, "warning: ", format, v) }
func Infof(format string, v ...interface{})  { logAt(LevelInfo, "", format, v) }
func Debugf(format string, v ...interface{}) { logAt(LevelDebug, "debug: ", format, v) }
func Spewf(format string, v ...interface{})  { logAt(LevelSpew, "spew: ", format, v) }
