package credential

import (
	"context"
	"sync"
)

// InflightCoordinator coalesces concurrent refresh attempts so at most one
// refresh per credential is in flight. Waiters share the leader's result;
// a waiter whose ctx expires detaches without cancelling the leader.
type InflightCoordinator struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	done chan struct{}
	err  error
}

// NewInflightCoordinator builds an empty coordinator.
func NewInflightCoordinator() *InflightCoordinator {
	return &InflightCoordinator{inflight: make(map[string]*flight)}
}

// Do runs fn for credID unless a flight is already active, in which case
// it waits for that flight's result instead.
func (c *InflightCoordinator) Do(ctx context.Context, credID string, fn func(ctx context.Context) error) error {
	if credID == "" {
		return fn(ctx)
	}
	c.mu.Lock()
	if f := c.inflight[credID]; f != nil {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return f.err
		}
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[credID] = f
	c.mu.Unlock()

	// The leader refreshes on a detached context so a single caller's
	// cancellation cannot abort a refresh other waiters depend on.
	f.err = fn(context.WithoutCancel(ctx))
	close(f.done)

	c.mu.Lock()
	delete(c.inflight, credID)
	c.mu.Unlock()
	return f.err
}

// Inflight reports whether a refresh is currently running for credID.
func (c *InflightCoordinator) Inflight(credID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[credID]
	return ok
}
