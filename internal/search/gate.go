package search

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate caps the number of simultaneously in-flight backend calls across a
// fan-out. It is held for the duration of exactly one call and released on
// every path, including failure.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewGate creates a Gate with the given capacity; non-positive values fall
// back to 1.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int {
	return g.capacity
}
