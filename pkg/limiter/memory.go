// Package limiter bounds concurrent image decoding by the memory the decoded
// pixels will occupy rather than by a fixed number of workers.
package limiter

import (
	"context"
	"sync"
)

// Memory manages a shared memory budget. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	available int64
	capacity  int64
	// released is closed and replaced on every Release to wake waiters.
	released chan struct{}
}

// NewMemory creates a new memory limiter with the specified total capacity in bytes.
func NewMemory(limit int64) *Memory {
	return &Memory{
		available: limit,
		capacity:  limit,
		released:  make(chan struct{}),
	}
}

// Acquire blocks until n bytes are available or ctx is done. A request larger
// than the capacity is clamped to the capacity, so it runs once everything
// else has been released. The returned amount must be passed to Release.
func (m *Memory) Acquire(ctx context.Context, n int64) (int64, error) {
	n = max(min(n, m.capacity), 0)
	for {
		m.mu.Lock()
		if m.available >= n {
			m.available -= n
			m.mu.Unlock()
			return n, nil
		}
		wait := m.released
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
	}
}

// Release returns 'n' bytes back to the budget.
func (m *Memory) Release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available += n
	// Caps a double release.
	if m.available > m.capacity {
		m.available = m.capacity
	}
	close(m.released)
	m.released = make(chan struct{})
}

// Available returns the amount of memory currently available.
func (m *Memory) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Capacity returns the total capacity of the limiter.
func (m *Memory) Capacity() int64 {
	return m.capacity
}
