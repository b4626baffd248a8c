package piecewisejerk

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
)

// Stream is one of the solver log streams, ordered by verbosity.
type Stream int

const (
	// StreamOps carries rejected input and failed solves.
	StreamOps Stream = iota
	// StreamDiag carries one outcome line per successful solve.
	StreamDiag
	// StreamTrace carries matrix sizes for every assembled problem.
	StreamTrace
	numStreams
)

func (s Stream) String() string {
	switch s {
	case StreamOps:
		return "ops"
	case StreamDiag:
		return "diag"
	case StreamTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// LogWriters holds the destination of each stream. A nil writer disables
// that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu       sync.RWMutex
	loggers  [numStreams]*log.Logger
	solveSeq atomic.Uint64
)

// SetLogWriters replaces all three streams at once.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	loggers = [numStreams]*log.Logger{
		StreamOps:   newLogger(w.Ops, StreamOps),
		StreamDiag:  newLogger(w.Diag, StreamDiag),
		StreamTrace: newLogger(w.Trace, StreamTrace),
	}
}

func newLogger(w io.Writer, s Stream) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[piecewisejerk "+s.String()+"] ", log.LstdFlags|log.Lmicroseconds)
}

func logger(s Stream) *log.Logger {
	if s < 0 || s >= numStreams {
		return nil
	}
	mu.RLock()
	defer mu.RUnlock()
	return loggers[s]
}

// Enabled reports whether s has a writer.
func Enabled(s Stream) bool { return logger(s) != nil }

func logf(s Stream, format string, args ...interface{}) {
	if l := logger(s); l != nil {
		l.Printf(format, args...)
	}
}

// solveLog tags every line of one Solve call with a process-wide sequence
// number and the knot count, so interleaved concurrent solves stay readable.
type solveLog struct {
	id uint64
	n  int
}

func newSolveLog(n int) solveLog {
	return solveLog{id: solveSeq.Add(1), n: n}
}

func (l solveLog) printf(s Stream, format string, args ...interface{}) {
	if !Enabled(s) {
		return
	}
	logf(s, "solve#%d n=%d "+format, append([]interface{}{l.id, l.n}, args...)...)
}
