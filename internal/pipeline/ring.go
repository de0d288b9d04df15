package pipeline

import "sync"

// ring is a fixed-capacity buffer that evicts its oldest entry when full.
// Snapshots copy out under the lock so readers never block the write path
// for more than a memcpy.
type ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v, evicting the oldest entry when the buffer is full.
func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns up to n entries, newest first. n <= 0 means all.
func (r *ring[T]) snapshot(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (r.head + r.count - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

func (r *ring[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
