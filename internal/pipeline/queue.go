package pipeline

import (
	"context"
	"sync"
)

// DropPolicy selects how a full queue makes room for a new item.
type DropPolicy int

const (
	// DropNew discards the incoming item when the queue is full.
	DropNew DropPolicy = iota
	// DropOldest pops the oldest queued item to make room for the new one.
	DropOldest
)

// Queue is a fixed-capacity FIFO queue whose producers never block.
// Consumers block on Pop until an item arrives or the context is cancelled.
type Queue[T any] struct {
	mu     sync.Mutex
	ch     chan T
	policy DropPolicy
}

// NewQueue creates a queue with the given capacity (minimum 1) and drop policy.
func NewQueue[T any](capacity int, policy DropPolicy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:     make(chan T, capacity),
		policy: policy,
	}
}

// TryPush enqueues item without blocking. It returns whether the item was
// accepted and how many items were dropped in the process. Under DropNew a
// full queue drops the incoming item. Under DropOldest a full queue first
// drops its oldest entry; if the queue is somehow still full the incoming
// item is dropped too and counted as a second drop.
func (q *Queue[T]) TryPush(item T) (accepted bool, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- item:
		return true, 0
	default:
	}

	if q.policy == DropNew {
		return false, 1
	}

	select {
	case <-q.ch:
		dropped++
	default:
	}

	select {
	case q.ch <- item:
		return true, dropped
	default:
		return false, dropped + 1
	}
}

// Pop blocks until an item is available or ctx is cancelled.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Drain discards all queued items and returns how many were removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for {
		select {
		case <-q.ch:
			removed++
		default:
			return removed
		}
	}
}
