package depth

import (
	"io"
	"log"
	"sync"
)

// LogWriters routes the three depth logging streams.
//
//	Ops:   session lifecycle, dropped frames, release failures
//	Diag:  per-frame decode and projection summaries
//	Trace: per-push and per-eviction buffer telemetry
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	logMu       sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three streams at once. A nil writer
// disables its stream.
func SetLogWriters(w LogWriters) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = newLogger(w.Ops)
	diagLogger = newLogger(w.Diag)
	traceLogger = newLogger(w.Trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[depth] ", log.LstdFlags|log.Lmicroseconds)
}

func logTo(l **log.Logger, format string, args []interface{}) {
	logMu.RLock()
	lg := *l
	logMu.RUnlock()
	if lg != nil {
		lg.Printf(format, args...)
	}
}

// Opsf logs actionable warnings, errors and lifecycle events.
func Opsf(format string, args ...interface{}) { logTo(&opsLogger, format, args) }

// Diagf logs day-to-day diagnostics.
func Diagf(format string, args ...interface{}) { logTo(&diagLogger, format, args) }

// Tracef logs high-frequency buffer telemetry.
func Tracef(format string, args ...interface{}) { logTo(&traceLogger, format, args) }
