// Package buffer provides a thread-safe FIFO ring buffer that grows on demand.
//
// It backs the transport's outbound queue (messages written while the
// connection is down) and the recorder's input queue.
package buffer

import "sync"

const minCapacity = 8

// Ring is a growable FIFO. It doubles its backing array when full, so it is
// unbounded unless a limit is set, in which case the oldest item is dropped to
// make room for a new one.
type Ring[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // index of the oldest item
	count  int
	limit  int // 0 = unbounded
	closed bool

	// Stats
	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// Stats contains buffer statistics.
type Stats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// New creates a ring with the given initial capacity and item limit.
// A limit of 0 means the ring grows without bound.
func New[T any](initialCapacity, limit int) *Ring[T] {
	if initialCapacity < minCapacity {
		initialCapacity = minCapacity
	}
	if limit < 0 {
		limit = 0
	}
	r := &Ring[T]{
		buf:   make([]T, initialCapacity),
		limit: limit,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// PushBack appends an item. It reports whether an older item was dropped to
// respect the limit. Items pushed after Close are discarded and reported as
// dropped.
func (r *Ring[T]) PushBack(item T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.dropped++
		return true
	}

	if r.limit > 0 && r.count >= r.limit {
		r.popLocked()
		r.popped-- // eviction is not a delivery
		r.dropped++
		dropped = true
	}
	if r.count == len(r.buf) {
		r.grow()
	}

	r.buf[(r.head+r.count)%len(r.buf)] = item
	r.count++
	r.pushed++

	r.cond.Signal()
	return dropped
}

// PushFront puts an item back at the head, ahead of everything queued.
// Used to return an item whose delivery failed. When the ring is at its limit
// the newest item is evicted instead, keeping the oldest in order.
func (r *Ring[T]) PushFront(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.dropped++
		return
	}

	if r.limit > 0 && r.count >= r.limit {
		var zero T
		r.buf[(r.head+r.count-1)%len(r.buf)] = zero
		r.count--
		r.dropped++
	}
	if r.count == len(r.buf) {
		r.grow()
	}

	r.head = (r.head - 1 + len(r.buf)) % len(r.buf)
	r.buf[r.head] = item
	r.count++
	r.popped-- // the item was already counted as popped once

	r.cond.Signal()
}

// PopFront removes and returns the oldest item without blocking.
func (r *Ring[T]) PopFront() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// Receive removes and returns the oldest item, blocking until one is available.
// It returns false once the ring is closed and empty.
func (r *Ring[T]) Receive() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.popLocked(), true
}

// DrainTo removes up to max items (all items when max <= 0) in FIFO order.
func (r *Ring[T]) DrainTo(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	n := r.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = r.popLocked()
	}
	return out
}

// Clear discards every queued item and returns how many were discarded.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	var zero T
	for i := 0; i < r.count; i++ {
		r.buf[(r.head+i)%len(r.buf)] = zero
	}
	r.head = 0
	r.count = 0
	r.dropped += int64(n)
	return n
}

// Close wakes blocked receivers. Remaining items can still be received.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Stats returns buffer statistics.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Count:    r.count,
		Capacity: len(r.buf),
		Pushed:   r.pushed,
		Popped:   r.popped,
		Dropped:  r.dropped,
		Resizes:  r.resizes,
	}
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (r *Ring[T]) popLocked() T {
	item := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero // release reference for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	r.popped++
	return item
}

// grow doubles the capacity, unwrapping items to start at index 0.
// Must be called with lock held.
func (r *Ring[T]) grow() {
	next := make([]T, len(r.buf)*2)
	n := copy(next, r.buf[r.head:])
	if n < r.count {
		copy(next[n:], r.buf[:r.count-n])
	}
	r.buf = next
	r.head = 0
	r.resizes++
}
