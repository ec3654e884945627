package pipeline

import "sync"

// maxRecent caps how many items a Recent call can return regardless of the
// requested limit.
const maxRecent = 200

// Ring is a thread-safe fixed-capacity buffer that evicts its oldest entry
// when full. It backs the per-stage "recent results" accessors.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Append adds item, evicting the oldest entry if the ring is at capacity.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = item
		return
	}
	r.items = append(r.items, item)
}

// Recent returns up to limit items, newest first. The limit is clamped to
// [1, maxRecent].
func (r *Ring[T]) Recent(limit int) []T {
	if limit < 1 {
		limit = 1
	}
	if limit > maxRecent {
		limit = maxRecent
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.items)
	if limit > n {
		limit = n
	}

	out := make([]T, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.items[i])
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
