package robotz

import (
	"iter"
	"time"
)

// Deque is a bounded, double-ended, blocking queue with an explicit
// open/closed lifecycle. A zero or negative capacity means unbounded.
//
// Deque embeds *SyncObject, so it is itself usable as a scoped lock
// (Lock/Unlock/Sleep/SleepUntil/Wakeup*) for callers building higher-level
// protocols on top of it, the same way TaskQueue builds its dispatch loop
// on top of a Deque's backlog.
type Deque[T any] struct {
	*SyncObject
	items  []T
	cap    int
	closed bool
}

// NewDeque constructs a Deque. capacity <= 0 means unbounded.
func NewDeque[T any](capacity int, opts ...SyncOption) *Deque[T] {
	return &Deque[T]{
		SyncObject: NewSyncObject("Deque", opts...),
		cap:        capacity,
	}
}

// Append adds item at the tail, blocking while the deque is full unless
// force is set. Returns *QueueClosedError if the deque is closed when the
// wait ends (or immediately, if force is set and it is already closed).
func (d *Deque[T]) Append(item T, timeout time.Duration, force bool) error {
	return d.put(item, timeout, force, true)
}

// Insert adds item at the head; otherwise identical to Append.
func (d *Deque[T]) Insert(item T, timeout time.Duration, force bool) error {
	return d.put(item, timeout, force, false)
}

func (d *Deque[T]) put(item T, timeout time.Duration, force, tail bool) error {
	d.Lock()
	defer d.Unlock()
	if !force {
		if err := d.SleepUntil(func() bool {
			return d.cap <= 0 || len(d.items) < d.cap || d.closed
		}, timeout); err != nil {
			return err
		}
	}
	if d.closed {
		return &QueueClosedError{Op: "Deque.Append"}
	}
	if tail {
		d.items = append(d.items, item)
	} else {
		d.items = append(append(make([]T, 0, len(d.items)+1), item), d.items...)
	}
	d.WakeupAll()
	return nil
}

// Pop removes and returns the item at index (0 is the head, -1 the tail),
// blocking while the deque is empty and open. ok is false, with a nil
// error, once the deque has been closed and fully drained — the sentinel
// iteration-termination condition described in the design. A non-nil error
// indicates the timeout elapsed first.
func (d *Deque[T]) Pop(index int, timeout time.Duration) (item T, ok bool, err error) {
	d.Lock()
	defer d.Unlock()
	if err = d.SleepUntil(func() bool {
		return len(d.items) > 0 || d.closed
	}, timeout); err != nil {
		var zero T
		return zero, false, err
	}
	if len(d.items) == 0 {
		var zero T
		return zero, false, nil
	}
	idx := index
	if idx < 0 {
		idx = len(d.items) + idx
	}
	item = d.items[idx]
	d.items = append(d.items[:idx], d.items[idx+1:]...)
	d.WakeupAll()
	return item, true, nil
}

// PopFront is Pop(0, timeout).
func (d *Deque[T]) PopFront(timeout time.Duration) (item T, ok bool, err error) {
	return d.Pop(0, timeout)
}

// PopBack is Pop(-1, timeout).
func (d *Deque[T]) PopBack(timeout time.Duration) (item T, ok bool, err error) {
	return d.Pop(-1, timeout)
}

// Flush drops all items without closing the deque, waking every waiter.
func (d *Deque[T]) Flush() {
	d.Lock()
	defer d.Unlock()
	d.items = nil
	d.WakeupAll()
}

// Close marks the deque closed: pending and future waiters on a full
// deque unblock immediately, and Append/Insert begin failing with
// *QueueClosedError. It is idempotent.
func (d *Deque[T]) Close() {
	d.Lock()
	defer d.Unlock()
	d.closed = true
	d.WakeupAll()
}

// Open reopens a closed deque, resuming normal producer/consumer blocking.
// It is idempotent and leaves capacity and contents unchanged.
func (d *Deque[T]) Open() {
	d.Lock()
	defer d.Unlock()
	d.closed = false
	d.WakeupAll()
}

// Closed reports whether the deque is currently closed.
func (d *Deque[T]) Closed() bool {
	d.Lock()
	defer d.Unlock()
	return d.closed
}

// Len returns the current number of items.
func (d *Deque[T]) Len() int {
	d.Lock()
	defer d.Unlock()
	return len(d.items)
}

// Cap returns the configured capacity, or <= 0 for unbounded.
func (d *Deque[T]) Cap() int { return d.cap }

// All returns an iterator over the deque's items, blocking for each one
// and terminating when the deque closes and drains. It is the idiomatic
// Go analogue of the original's lazy-sequence iteration contract.
func (d *Deque[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, ok, err := d.PopFront(Forever)
			if err != nil || !ok {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}
