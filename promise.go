package robotz

import (
	"math/rand"
	"time"
)

// Result is the opaque payload a Promise carries on success. It mirrors
// the teacher codebase's own Result alias for the same concept.
type Result = any

// PromiseState is the terminal-state machine of a Promise:
// Pending -> {Completed | Exceptioned | Cancelled}, no other transitions.
type PromiseState int32

const (
	PromisePending PromiseState = iota
	PromiseCompleted
	PromiseExceptioned
	PromiseCancelled
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseCompleted:
		return "completed"
	case PromiseExceptioned:
		return "exceptioned"
	case PromiseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PromiseCallback is a duck-typed generic listener: implement whichever of
// these it cares about.
//
//	OnComplete(result Result, p *Promise) bool
//	OnException(p *Promise, err error) bool
//	OnCancel(p *Promise)
//
// OnComplete/OnException return true to stop the remaining callbacks in
// the list from running for this delivery (OnException additionally marks
// the exception consumed, suppressing re-raise on Wait).
type PromiseCallback any

type promiseCompleteHandler interface {
	OnComplete(result Result, p *Promise) bool
}

type promiseExceptionHandler interface {
	OnException(p *Promise, err error) bool
}

type promiseCancelHandler interface {
	OnCancel(p *Promise)
}

type chainedEntry struct {
	promise  *Promise
	cascade  bool
	attached bool
}

// Promise is a single-assignment deferred result with multi-callback
// dispatch and chaining, as described in the design's Promise component.
type Promise struct {
	*SyncObject

	data Result

	state    PromiseState
	result   Result
	err      error
	consumed bool

	onComplete  func(result Result)
	onException func(err error) bool
	onCancel    func()

	callbacks []PromiseCallback
	chained   []*chainedEntry
}

// NewPromise constructs a pending Promise carrying the given opaque data.
func NewPromise(data Result, opts ...SyncOption) *Promise {
	return &Promise{
		SyncObject: NewSyncObject("Promise", opts...),
		data:       data,
	}
}

// Data returns the opaque payload supplied at construction.
func (p *Promise) Data() Result { return p.data }

// State returns the promise's current terminal-state-machine value.
func (p *Promise) State() PromiseState {
	p.Lock()
	defer p.Unlock()
	return p.state
}

// Complete transitions a pending promise to Completed with result. It is a
// no-op if the promise is already terminal.
func (p *Promise) Complete(result Result) {
	p.Lock()
	defer p.Unlock()
	if p.state != PromisePending {
		return
	}
	p.state = PromiseCompleted
	p.result = result

	onComplete := p.onComplete
	callbacks := p.callbacks
	chained := p.chained
	p.release()

	if onComplete != nil {
		onComplete(result)
	}
	for _, cb := range callbacks {
		if h, ok := cb.(promiseCompleteHandler); ok {
			if h.OnComplete(result, p) {
				break
			}
		}
	}
	for _, c := range chained {
		c.promise.Complete(result)
	}
	p.WakeupAll()
}

// Exception transitions a pending promise to Exceptioned with err. If any
// handler (the single-shot slot or a generic callback) returns true, the
// exception is marked consumed: Wait will not re-raise it.
func (p *Promise) Exception(err error) {
	p.Lock()
	defer p.Unlock()
	if p.state != PromisePending {
		return
	}
	p.state = PromiseExceptioned
	p.err = err

	onException := p.onException
	callbacks := p.callbacks
	chained := p.chained
	p.release()

	consumed := false
	if onException != nil {
		if onException(err) {
			consumed = true
		}
	}
	for _, cb := range callbacks {
		if h, ok := cb.(promiseExceptionHandler); ok {
			if h.OnException(p, err) {
				consumed = true
				break
			}
		}
	}
	p.consumed = consumed
	for _, c := range chained {
		c.promise.Exception(err)
	}
	p.WakeupAll()
}

// Cancel transitions a pending promise to Cancelled. cancelChained governs
// whether the cancellation cascades to promises attached via Chain that
// were themselves chained with cascade enabled (the default); it has no
// effect on an already-terminal promise.
func (p *Promise) Cancel(cancelChained bool) {
	p.Lock()
	defer p.Unlock()
	if p.state != PromisePending {
		return
	}
	p.state = PromiseCancelled

	onCancel := p.onCancel
	callbacks := p.callbacks
	chained := p.chained
	p.release()

	if onCancel != nil {
		onCancel()
	}
	for _, cb := range callbacks {
		if h, ok := cb.(promiseCancelHandler); ok {
			h.OnCancel(p)
		}
	}
	if cancelChained {
		for _, c := range chained {
			if c.cascade {
				c.promise.Cancel(true)
			}
		}
	}
	p.WakeupAll()
}

// release clears the internal slots that could otherwise form reference
// cycles (callback lists, chained promises, single-shot handlers), per the
// design's cyclic-ownership strategy. Must be called with the lock held.
func (p *Promise) release() {
	p.onComplete = nil
	p.onException = nil
	p.onCancel = nil
	p.callbacks = nil
	p.chained = nil
}

// OnComplete sets the single-shot completion slot. If the promise is
// already completed, cb fires immediately, synchronously, before return.
func (p *Promise) OnComplete(cb func(result Result)) *Promise {
	p.Lock()
	if p.state == PromisePending {
		p.onComplete = cb
		p.Unlock()
		return p
	}
	state, result := p.state, p.result
	p.Unlock()
	if state == PromiseCompleted {
		cb(result)
	}
	return p
}

// OnException sets the single-shot exception slot. If the promise is
// already exceptioned, cb fires immediately; a true return marks the
// exception consumed exactly as it would during Exception's dispatch.
func (p *Promise) OnException(cb func(err error) bool) *Promise {
	p.Lock()
	if p.state == PromisePending {
		p.onException = cb
		p.Unlock()
		return p
	}
	state, err := p.state, p.err
	p.Unlock()
	if state == PromiseExceptioned {
		p.Lock()
		if cb(err) {
			p.consumed = true
		}
		p.Unlock()
	}
	return p
}

// OnCancel sets the single-shot cancellation slot, firing immediately if
// the promise is already cancelled.
func (p *Promise) OnCancel(cb func()) *Promise {
	p.Lock()
	if p.state == PromisePending {
		p.onCancel = cb
		p.Unlock()
		return p
	}
	state := p.state
	p.Unlock()
	if state == PromiseCancelled {
		cb()
	}
	return p
}

// AddCallback registers a generic listener. If the promise is already
// terminal, cb fires immediately in the matching mode.
func (p *Promise) AddCallback(cb PromiseCallback) *Promise {
	p.Lock()
	if p.state == PromisePending {
		p.callbacks = append(p.callbacks, cb)
		p.Unlock()
		return p
	}
	state, result, err := p.state, p.result, p.err
	p.Unlock()
	switch state {
	case PromiseCompleted:
		if h, ok := cb.(promiseCompleteHandler); ok {
			h.OnComplete(result, p)
		}
	case PromiseExceptioned:
		if h, ok := cb.(promiseExceptionHandler); ok {
			if h.OnException(p, err) {
				p.Lock()
				p.consumed = true
				p.Unlock()
			}
		}
	case PromiseCancelled:
		if h, ok := cb.(promiseCancelHandler); ok {
			h.OnCancel(p)
		}
	}
	return p
}

// Chain attaches child so that it is delivered whenever p delivers, in the
// same mode. If p is already terminal, child is delivered immediately.
// cascadeCancel (default true) controls whether cancelling p with
// cancelChained=true cancels child in turn.
func (p *Promise) Chain(child *Promise, cascadeCancel bool) *Promise {
	p.Lock()
	if p.state == PromisePending {
		p.chained = append(p.chained, &chainedEntry{promise: child, cascade: cascadeCancel})
		p.Unlock()
		return p
	}
	state, result, err := p.state, p.result, p.err
	p.Unlock()
	switch state {
	case PromiseCompleted:
		child.Complete(result)
	case PromiseExceptioned:
		child.Exception(err)
	case PromiseCancelled:
		child.Cancel(cascadeCancel)
	}
	return p
}

type funcCallback struct {
	onComplete  func(result Result)
	onException func(err error) bool
}

func (f *funcCallback) OnComplete(result Result, _ *Promise) bool {
	if f.onComplete != nil {
		f.onComplete(result)
	}
	return false
}

func (f *funcCallback) OnException(_ *Promise, err error) bool {
	if f.onException != nil {
		return f.onException(err)
	}
	return false
}

// Then returns a new Promise delivered whenever p delivers, in the same
// mode — a direct propagation, not a value transformation — with
// onComplete/onException (either may be nil) registered on that new
// Promise. An onException returning true consumes the new Promise's
// exception, so its Wait does not re-raise it.
func (p *Promise) Then(onComplete func(result Result), onException func(err error) bool) *Promise {
	child := NewPromise(nil)
	child.AddCallback(&funcCallback{onComplete: onComplete, onException: onException})
	p.Chain(child, true)
	return child
}

// Catch is Then(nil, onException).
func (p *Promise) Catch(onException func(err error) bool) *Promise {
	return p.Then(nil, onException)
}

type finallyCallback struct{ fn func() }

func (f *finallyCallback) OnComplete(Result, *Promise) bool { f.fn(); return false }
func (f *finallyCallback) OnException(*Promise, error) bool { f.fn(); return false }
func (f *finallyCallback) OnCancel(*Promise)                { f.fn() }

// Finally registers fn to run on any terminal transition, and returns a
// new Promise chained through unchanged.
func (p *Promise) Finally(fn func()) *Promise {
	child := NewPromise(nil)
	p.AddCallback(&finallyCallback{fn: fn})
	p.Chain(child, true)
	return child
}

// Wait blocks until p reaches a terminal state or timeout elapses.
// On Completed, it returns (result, nil). On Cancelled, it returns
// (nil, nil). On Exceptioned, it returns (nil, err) unless a handler
// already marked the exception consumed, in which case (nil, nil).
// A *TimeoutError is returned if the deadline passes while still pending.
func (p *Promise) Wait(timeout time.Duration) (Result, error) {
	p.Lock()
	defer p.Unlock()
	if err := p.SleepUntil(func() bool { return p.state != PromisePending }, timeout); err != nil {
		return nil, err
	}
	switch p.state {
	case PromiseCompleted:
		return p.result, nil
	case PromiseExceptioned:
		if p.consumed {
			return nil, nil
		}
		return nil, p.err
	default: // PromiseCancelled
		return nil, nil
	}
}

// jitterDuration returns d plus a uniform random duration in [0, jitter).
func jitterDuration(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(jitter)))
}

// All returns a Promise completed with the slice of results once every
// input promise completes, or exceptioned with the first error seen from
// any input promise (whichever resolves first), generalizing the
// original's ANDPromise.
func All(promises []*Promise) *Promise {
	out := NewPromise(nil)
	n := len(promises)
	if n == 0 {
		out.Complete(nil)
		return out
	}
	results := make([]Result, n)
	remaining := n
	mu := NewSyncObject("All")
	done := false
	for i, pr := range promises {
		i := i
		pr.Then(
			func(result Result) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				results[i] = result
				remaining--
				if remaining == 0 {
					done = true
					out.Complete(append([]Result(nil), results...))
				}
			},
			func(err error) bool {
				mu.Lock()
				defer mu.Unlock()
				if !done {
					done = true
					out.Exception(err)
				}
				return true
			},
		)
	}
	return out
}

// Race returns a Promise completed or exceptioned like whichever input
// promise first completes or fails, generalizing the original's ORPromise.
// Cancelled inputs are ignored: Race never cancels the returned Promise.
func Race(promises []*Promise) *Promise {
	out := NewPromise(nil)
	mu := NewSyncObject("Race")
	done := false
	for _, pr := range promises {
		pr.Then(
			func(result Result) {
				mu.Lock()
				defer mu.Unlock()
				if !done {
					done = true
					out.Complete(result)
				}
			},
			func(err error) bool {
				mu.Lock()
				defer mu.Unlock()
				if !done {
					done = true
					out.Exception(err)
				}
				return true
			},
		)
	}
	return out
}

// SettledResult is one element of AllSettled's delivered slice.
type SettledResult struct {
	Result    Result
	Err       error
	Cancelled bool
}

// AllSettled returns a Promise that always completes (never exceptions)
// once every input promise has reached a terminal state, carrying one
// SettledResult per input in order.
func AllSettled(promises []*Promise) *Promise {
	out := NewPromise(nil)
	n := len(promises)
	if n == 0 {
		out.Complete([]SettledResult{})
		return out
	}
	settled := make([]SettledResult, n)
	remaining := n
	mu := NewSyncObject("AllSettled")
	for i, pr := range promises {
		i := i
		pr.AddCallback(&funcCallback{
			onComplete: func(result Result) {
				mu.Lock()
				defer mu.Unlock()
				settled[i] = SettledResult{Result: result}
				remaining--
				if remaining == 0 {
					out.Complete(append([]SettledResult(nil), settled...))
				}
			},
		})
		pr.OnException(func(err error) bool {
			mu.Lock()
			settled[i] = SettledResult{Err: err}
			remaining--
			if remaining == 0 {
				out.Complete(append([]SettledResult(nil), settled...))
			}
			mu.Unlock()
			return true
		})
		pr.OnCancel(func() {
			mu.Lock()
			settled[i] = SettledResult{Cancelled: true}
			remaining--
			if remaining == 0 {
				out.Complete(append([]SettledResult(nil), settled...))
			}
			mu.Unlock()
		})
	}
	return out
}

// Any returns a Promise completed with the first input promise's result to
// complete successfully, or exceptioned once every input has failed.
func Any(promises []*Promise) *Promise {
	out := NewPromise(nil)
	n := len(promises)
	if n == 0 {
		out.Exception(&ErrNoPromiseResolved{})
		return out
	}
	remaining := n
	mu := NewSyncObject("Any")
	done := false
	for _, pr := range promises {
		pr.Then(
			func(result Result) {
				mu.Lock()
				defer mu.Unlock()
				if !done {
					done = true
					out.Complete(result)
				}
			},
			func(error) bool {
				mu.Lock()
				defer mu.Unlock()
				remaining--
				if !done && remaining == 0 {
					done = true
					out.Exception(&ErrNoPromiseResolved{})
				}
				return true
			},
		)
	}
	return out
}

// ErrNoPromiseResolved is Any's exception when every input promise fails.
type ErrNoPromiseResolved struct{}

func (e *ErrNoPromiseResolved) Error() string { return "robotz: no promise resolved successfully" }
