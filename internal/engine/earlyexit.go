package engine

import "sync/atomic"

// earlyExit is the async-signal-safe flag the fuzzing loop polls at
// batch boundaries. Modeled as a package-level atomic pair rather
// than context cancellation (the teacher's shutdown context.Context
// in go-fuzz/main.go) because a signal handler must not allocate or
// touch anything that could block -- an atomic store is the one
// operation guaranteed safe there.
var (
	earlyExitRequested int32
	earlyExitCode      int32
)

// RequestEarlyExit sets the process-wide early-exit flag and the
// desired exit code. Safe to call from a signal handler.
func RequestEarlyExit(code int32) {
	atomic.StoreInt32(&earlyExitCode, code)
	atomic.StoreInt32(&earlyExitRequested, 1)
}

// EarlyExitRequested reports whether RequestEarlyExit has been called,
// and if so with what code.
func EarlyExitRequested() (bool, int32) {
	if atomic.LoadInt32(&earlyExitRequested) == 0 {
		return false, 0
	}
	return true, atomic.LoadInt32(&earlyExitCode)
}

// resetEarlyExit clears the flag; exported only to tests, which run
// multiple FuzzingLoop instances against the same process-wide flag.
func resetEarlyExit() {
	atomic.StoreInt32(&earlyExitRequested, 0)
	atomic.StoreInt32(&earlyExitCode, 0)
}
