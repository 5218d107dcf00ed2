package session

import "sync"

// Queue is a mutex-guarded FIFO with an optional capacity cap. When the cap is
// exceeded the oldest item is evicted. A limit <= 0 means unbounded.
type Queue[T any] struct {
	mu    sync.Mutex
	limit int
	items []T
}

func NewQueue[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Enqueue appends item and returns the evicted oldest item, if any.
func (q *Queue[T]) Enqueue(item T) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	var evicted T
	if q.limit > 0 && len(q.items) > q.limit {
		evicted = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		return evicted, true
	}
	return evicted, false
}

func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// DequeueIf removes the oldest item only when match accepts it.
func (q *Queue[T]) DequeueIf(match func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 || !match(q.items[0]) {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Limit() int {
	return q.limit
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Drain removes and returns every queued item in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
