package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Scoped returns a logger that prefixes every line with the given subsystem
// tag. The returned function forwards to whatever Logf is at call time, so a
// later SetLogger also retargets scoped loggers.
func Scoped(tag string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("[%s] %s", tag, fmt.Sprintf(format, v...))
	}
}
