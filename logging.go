package robotz

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout this package for
// diagnostics that have no other way to reach the caller: panics recovered
// from user callbacks, delegate errors swallowed to keep a dispatch loop
// alive, and similar background-goroutine conditions.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger constructs the package default Logger, a JSON logger writing to
// os.Stderr via stumpy, the logiface ecosystem's reference backend.
func NewLogger() *Logger {
	return logiface.New[*stumpy.Event](
		stumpy.WithStumpy(),
	)
}

// defaultLogger backs every component constructed without an explicit
// WithLogger option.
var defaultLogger = NewLogger()

// logPanic reports a recovered panic through l, falling back to the
// package default logger if l is nil.
func logPanic(l *Logger, component string, r any) {
	if l == nil {
		l = defaultLogger
	}
	l.Err().
		Str("component", component).
		Any("panic", r).
		Log("recovered panic in callback")
}

// logDelegateError reports an error returned from a user-supplied delegate
// callback (e.g. TaskQueueDelegate, SchedulerDelegate) that the caller has
// no direct way to observe.
func logDelegateError(l *Logger, component string, err error) {
	if err == nil {
		return
	}
	if l == nil {
		l = defaultLogger
	}
	l.Err().
		Str("component", component).
		Err(err).
		Log("delegate callback returned an error")
}
