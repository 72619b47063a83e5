// Package bono allocates the cyclic pickup numbers handed to customers when
// the kitchen accepts their batch.
package bono

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMax is the highest number before the counter wraps back to 1.
const DefaultMax = 100

// Next returns the number following last in the cycle 1..max.
func Next(last, max int) int {
	if max <= 0 {
		max = DefaultMax
	}
	if last >= max || last < 0 {
		return 1
	}
	return last + 1
}

// Valid reports whether n is a number the allocator can hand out.
func Valid(n, max int) bool {
	if max <= 0 {
		max = DefaultMax
	}
	return n >= 1 && n <= max
}

// Counter advances the shared counter atomically and returns the new value.
// Implementations must serialize concurrent callers.
type Counter interface {
	NextBono(ctx context.Context, max int) (int, error)
}

// Allocator hands out numbers from a Counter.
type Allocator struct {
	counter Counter
	max     int
}

// NewAllocator builds an allocator wrapping at max.
func NewAllocator(counter Counter, max int) *Allocator {
	if max <= 0 {
		max = DefaultMax
	}
	return &Allocator{counter: counter, max: max}
}

// Allocate returns the next number. Callers run it inside the transaction that
// flips the batch to ACCEPTED so both commit or neither does.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	n, err := a.counter.NextBono(ctx, a.max)
	if err != nil {
		return 0, fmt.Errorf("allocate bono: %w", err)
	}
	if !Valid(n, a.max) {
		return 0, fmt.Errorf("allocate bono: counter returned %d outside 1..%d", n, a.max)
	}
	return n, nil
}

// Max returns the wrap point.
func (a *Allocator) Max() int { return a.max }

// Memory is a mutex guarded Counter for single-instance deployments and tests.
type Memory struct {
	mu   sync.Mutex
	last int
}

// NewMemory starts the counter after last.
func NewMemory(last int) *Memory {
	return &Memory{last: last}
}

func (m *Memory) NextBono(_ context.Context, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = Next(m.last, max)
	return m.last, nil
}

// Last returns the most recently allocated number, 0 if none.
func (m *Memory) Last() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
