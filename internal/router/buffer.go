package router

import (
	"sync"
)

// Queue is a thread-safe FIFO ring that doubles its capacity when 70% full,
// up to a maximum. At the maximum a Send evicts the oldest item.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []T
	head    int
	tail    int
	count   int
	max     int
	closed  bool
	sent    int64
	taken   int64
	dropped int64
	resizes int
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Count    int
	Capacity int
	Sent     int64
	Taken    int64
	Dropped  int64
	Resizes  int
}

// NewQueue creates a queue with the given initial and maximum capacity.
// A max below initial is raised to initial.
func NewQueue[T any](initial, max int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	q := &Queue[T]{
		buf: make([]T, initial),
		max: max,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false once the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.max {
		q.grow()
	}
	if q.count == len(q.buf) {
		q.popLocked()
		q.dropped++
		q.taken--
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.sent++

	q.cond.Signal()
	return true
}

// Receive blocks until an item is available. Returns false once the queue is
// closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// TryReceive takes an item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// DrainTo takes up to limit items in FIFO order; limit <= 0 takes all.
func (q *Queue[T]) DrainTo(limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	n := q.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close stops accepting items. Queued items can still be taken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:    q.count,
		Capacity: len(q.buf),
		Sent:     q.sent,
		Taken:    q.taken,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// popLocked removes the head. Caller holds mu and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.taken++
	return item
}

// grow doubles the ring, capped at max. Caller holds mu.
func (q *Queue[T]) grow() {
	size := min(len(q.buf)*2, q.max)
	next := make([]T, size)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}
