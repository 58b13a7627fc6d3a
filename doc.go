// Package robotz provides a small set of composable concurrency primitives
// for goroutine-based Go programs: a reentrant mutex/condvar/semaphore base
// ([SyncObject]), a bounded blocking double-ended queue ([Deque]), a
// single-assignment future with chaining ([Promise]), a reentrant
// readers/writer lock with upgrade support ([RWLock]), a worker-pool task
// queue ([TaskQueue]), and a timeline-driven job scheduler ([Scheduler]).
//
// # Design
//
// Every primitive here assumes Go's native preemptive scheduling: there is
// no cooperative event loop and no requirement that callers run on any
// particular goroutine. Where the components need to recognize "the same
// logical caller came back" (RWLock's reentrant acquire), they use a
// best-effort goroutine identity derived from the runtime stack, the same
// technique used internally by this module's ancestor codebase to recognize
// its own dedicated goroutine.
//
// # Logging
//
// Panics in the delegate methods of [TaskQueue] and [Scheduler], in
// [SyncObject.Alarm] callbacks and in [PeriodicTimer] functions are
// recovered and logged through an injectable
// [github.com/joeycumines/logiface.Logger]. Construct one with
// [NewLogger], or supply your own via the relevant WithLogger option; the
// package default writes JSON to stderr via
// [github.com/joeycumines/stumpy]. Panics in Task functions and Job
// functions are recovered and delivered as a [*TaskError] on the task's or
// job's Promise rather than logged. Promise handlers run without recovery:
// a panic in one propagates to the goroutine that called Complete,
// Exception or Cancel.
package robotz
