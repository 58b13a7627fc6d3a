package robotz

import (
	"context"
	"time"

	"golang.org/x/exp/slices"
)

type rwHolder struct {
	depth int
	done  <-chan struct{}
	stop  chan struct{}
}

type rwWaiter struct {
	gid  uint64
	done <-chan struct{}
}

// RWLock is a reentrant readers/writer lock: a thread (goroutine, by our
// best-effort identity) holding shared solo may upgrade to exclusive
// without releasing shared, and any holder may re-acquire its own mode
// without blocking.
//
// Liveness/purge. The original package purges holders recorded against a
// thread that has since died, using OS thread-liveness introspection Go
// does not expose for arbitrary goroutines by ID. This port uses each
// acquisition's context.Context.Done() as the liveness signal instead —
// pass context.Background() if there is nothing meaningful to cancel by.
// A nil context is treated as always-live (never purged).
type RWLock struct {
	*SyncObject

	exclusiveOwner uint64
	exclusiveDepth int
	exclusiveDone  <-chan struct{}
	exclusiveStop  chan struct{}

	shared map[uint64]*rwHolder
	queue  []rwWaiter
}

// NewRWLock constructs an unheld RWLock.
func NewRWLock(opts ...SyncOption) *RWLock {
	return &RWLock{
		SyncObject: NewSyncObject("RWLock", opts...),
		shared:     make(map[uint64]*rwHolder),
	}
}

func doneChan(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

func isDone(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// watch spawns a goroutine that re-triggers dispatch-by-wakeup as soon as
// ctx is done, so a holder whose context is cancelled is purged promptly
// instead of only at some other goroutine's next predicate check. stop, if
// closed first (normal release), lets the goroutine exit without leaking.
func (l *RWLock) watch(ctx context.Context, stop chan struct{}) {
	if ctx == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			l.Lock()
			l.purge()
			l.WakeupAll()
			l.Unlock()
		case <-stop:
		}
	}()
}

// purge drops the exclusive owner and any shared holders whose context has
// been cancelled since the last check. Must be called with the lock held.
// The exclusive depth is reset to 0, never left unset, preserving the
// invariant that it is always a natural number.
func (l *RWLock) purge() {
	if l.exclusiveOwner != 0 && isDone(l.exclusiveDone) {
		l.exclusiveOwner = 0
		l.exclusiveDepth = 0
		l.exclusiveDone = nil
	}
	for gid, h := range l.shared {
		if isDone(h.done) {
			delete(l.shared, gid)
		}
	}
	l.queue = slices.DeleteFunc(l.queue, func(w rwWaiter) bool { return isDone(w.done) })
}

// AcquireShared blocks until legal: the exclusive owner is nobody or the
// caller itself. It is reentrant.
func (l *RWLock) AcquireShared(ctx context.Context, timeout time.Duration) error {
	gid := goroutineID()
	l.Lock()
	defer l.Unlock()
	l.purge()
	if err := l.SleepUntil(func() bool {
		l.purge()
		return l.exclusiveOwner == 0 || l.exclusiveOwner == gid
	}, timeout); err != nil {
		return err
	}
	if h, ok := l.shared[gid]; ok {
		h.depth++
	} else {
		stop := make(chan struct{})
		l.shared[gid] = &rwHolder{depth: 1, done: doneChan(ctx), stop: stop}
		l.watch(ctx, stop)
	}
	return nil
}

// AcquireExclusive blocks until legal: the caller already holds exclusive
// (reentrant bump), or nobody holds exclusive and shared is either empty
// or held solely by the caller (upgrade path). Contested acquisitions
// queue FIFO as a fairness hint, not a strict guarantee.
func (l *RWLock) AcquireExclusive(ctx context.Context, timeout time.Duration) error {
	gid := goroutineID()
	l.Lock()
	defer l.Unlock()
	l.purge()
	if l.exclusiveOwner == gid {
		l.exclusiveDepth++
		return nil
	}

	legal := func() bool {
		l.purge()
		if l.exclusiveOwner != 0 {
			return false
		}
		if len(l.queue) > 0 && l.queue[0].gid != gid {
			return false
		}
		switch len(l.shared) {
		case 0:
			return true
		case 1:
			_, solo := l.shared[gid]
			return solo
		default:
			return false
		}
	}

	if !legal() {
		l.queue = append(l.queue, rwWaiter{gid: gid, done: doneChan(ctx)})
		defer l.dequeue(gid)
	}

	if err := l.SleepUntil(legal, timeout); err != nil {
		return err
	}
	l.exclusiveOwner = gid
	l.exclusiveDepth = 1
	l.exclusiveDone = doneChan(ctx)
	l.exclusiveStop = make(chan struct{})
	l.watch(ctx, l.exclusiveStop)
	return nil
}

func (l *RWLock) dequeue(gid uint64) {
	if i := slices.IndexFunc(l.queue, func(w rwWaiter) bool { return w.gid == gid }); i >= 0 {
		l.queue = slices.Delete(l.queue, i, i+1)
	}
}

// ReleaseShared releases one level of shared ownership held by the
// caller, returning *InvalidStateError if the caller holds none.
func (l *RWLock) ReleaseShared() error {
	gid := goroutineID()
	l.Lock()
	defer l.Unlock()
	h, ok := l.shared[gid]
	if !ok {
		return &InvalidStateError{Op: "RWLock.ReleaseShared", Message: "caller does not hold shared"}
	}
	h.depth--
	if h.depth == 0 {
		delete(l.shared, gid)
		close(h.stop)
	}
	l.WakeupAll()
	return nil
}

// ReleaseExclusive releases one level of exclusive ownership held by the
// caller, returning *InvalidStateError if the caller does not hold it.
func (l *RWLock) ReleaseExclusive() error {
	gid := goroutineID()
	l.Lock()
	defer l.Unlock()
	if l.exclusiveOwner != gid {
		return &InvalidStateError{Op: "RWLock.ReleaseExclusive", Message: "caller does not hold exclusive"}
	}
	l.exclusiveDepth--
	if l.exclusiveDepth == 0 {
		l.exclusiveOwner = 0
		l.exclusiveDone = nil
		close(l.exclusiveStop)
		l.exclusiveStop = nil
	}
	l.WakeupAll()
	return nil
}

// Shared acquires shared ownership and returns a function that releases
// it, for defer-style scoped usage.
func (l *RWLock) Shared(ctx context.Context, timeout time.Duration) (release func(), err error) {
	if err := l.AcquireShared(ctx, timeout); err != nil {
		return nil, err
	}
	return func() { _ = l.ReleaseShared() }, nil
}

// Exclusive acquires exclusive ownership and returns a function that
// releases it, for defer-style scoped usage.
func (l *RWLock) Exclusive(ctx context.Context, timeout time.Duration) (release func(), err error) {
	if err := l.AcquireExclusive(ctx, timeout); err != nil {
		return nil, err
	}
	return func() { _ = l.ReleaseExclusive() }, nil
}

// Owners reports the current holder set, for diagnostics: the exclusive
// owner's goroutine ID (0 if none) and the set of shared holders' IDs.
func (l *RWLock) Owners() (exclusive uint64, shared []uint64) {
	l.Lock()
	defer l.Unlock()
	shared = make([]uint64, 0, len(l.shared))
	for gid := range l.shared {
		shared = append(shared, gid)
	}
	return l.exclusiveOwner, shared
}
