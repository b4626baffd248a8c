// Package monitoring holds the process-wide diagnostic logger and maps the
// configured log level onto the planner's log streams.
package monitoring

import (
	"io"
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

// Streams are the writers for the ops, diag and trace log streams. A nil
// writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// StreamsForLevel enables every stream up to and including level, writing to
// w. Unknown levels behave like "ops".
func StreamsForLevel(level string, w io.Writer) Streams {
	switch level {
	case "none":
		return Streams{}
	case "diag":
		return Streams{Ops: w, Diag: w}
	case "trace":
		return Streams{Ops: w, Diag: w, Trace: w}
	default:
		return Streams{Ops: w}
	}
}
