package journal

import "sync"

// Queue is a FIFO ring that doubles its capacity once it is 70% full,
// up to an optional limit. Pushes past the limit are dropped.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	count  int
	limit  int
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// NewQueue creates a queue with the given initial capacity. A limit of
// zero or less means unbounded.
func NewQueue[T any](capacity, limit int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{buf: make([]T, capacity), limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false when the queue is closed or full.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && q.count >= q.limit {
		q.dropped++
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	q.cond.Signal()
	return true
}

// PopBatch blocks until at least one item is queued, then removes up to
// n items (all of them if n <= 0). It returns nil once the queue is
// closed and empty.
func (q *Queue[T]) PopBatch(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.take(n)
}

// TryPopBatch is PopBatch without blocking.
func (q *Queue[T]) TryPopBatch(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take(n)
}

// Close stops accepting items. Queued items can still be popped.
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

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// take must be called with the lock held.
func (q *Queue[T]) take(n int) []T {
	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// grow doubles the ring and unwraps it. Must be called with the lock held.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
	q.resizes++
}
