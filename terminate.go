package flattab

import "sync/atomic"

// terminate is the process-wide termination flag: set once by a signal
// handler, polled cooperatively by long-running loops. No per-operation
// timeout exists; cancellation is advisory, not forced.
var terminate atomic.Bool

// RequestTermination flips the TERMINATE flag. Safe to call from a signal
// handler.
func RequestTermination() {
	terminate.Store(true)
}

// Terminated reports whether termination has been requested.
func Terminated() bool {
	return terminate.Load()
}

// ResetTermination clears the flag, e.g. between tests or between runs
// that share one process.
func ResetTermination() {
	terminate.Store(false)
}
