// Package numbering allocates sequential invoice numbers per calendar year.
package numbering

import (
	"context"
	"sync"
)

// Allocator hands out the next invoice number for a year. Implementations
// must be safe for concurrent use: two racing registrations must never
// observe the same number.
type Allocator interface {
	Next(ctx context.Context, year int) (int, error)
}

// Memory is a mutex-guarded per-year counter for tests and single-process use.
type Memory struct {
	mu   sync.Mutex
	last map[int]int
}

func NewMemory() *Memory {
	return &Memory{last: make(map[int]int)}
}

func (m *Memory) Next(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[year]++
	return m.last[year], nil
}
