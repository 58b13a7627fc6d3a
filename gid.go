package robotz

import "runtime"

// goroutineID returns a best-effort identifier for the calling goroutine,
// parsed from the runtime stack trace header ("goroutine 123 [running]:").
//
// Go has no equivalent of a stable thread handle; this is the same
// technique this module's ancestor codebase uses internally to recognize
// its own dedicated goroutine. IDs are reused by the runtime once a
// goroutine exits, so callers that key long-lived state by goroutineID
// (RWLock's reentrant owner tracking) must treat a match as a liveness
// hint, not a guarantee, and must always corroborate it with an explicit
// release/acquire count rather than trusting identity alone.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
