// Package queue provides the unbounded FIFO used on both sides of the
// cross-context bridge.
package queue

import "sync"

// Queue is a thread-safe, unbounded FIFO.
//
// The queue is unbounded so producers never block: the interaction side may
// enqueue updates at any rate and the presentation side may post settle
// notifications without waiting for the consumer.
//
// A buffered (size 1) signal channel lets the consumer wait with select,
// which keeps the consumer loop context-aware. Multiple enqueues between
// waits coalesce into a single signal.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
// Returns false if the queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	// Clear the slot so the backing array does not pin the item.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// DrainTo appends every queued item to dst in FIFO order and empties the
// queue. It takes the lock once, so a burst of N items costs one lock
// round-trip rather than N.
func (q *Queue[T]) DrainTo(dst []T) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	dst = append(dst, q.items...)

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]

	return dst
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // TryDequeue or DrainTo
//	}
func (q *Queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more items will be enqueued.
// Items already queued remain available to TryDequeue and DrainTo.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
