package auth

import (
	"context"
	"sync"
)

// inflightCoordinator coalesces concurrent token exchanges per credential so
// two callers hitting an expired cache perform a single network exchange.
type inflightCoordinator struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	wg  sync.WaitGroup
	err error
}

func newInflightCoordinator() *inflightCoordinator {
	return &inflightCoordinator{inflight: make(map[string]*flight)}
}

func (c *inflightCoordinator) do(ctx context.Context, credID string, fn func(ctx context.Context) error) error {
	if credID == "" {
		return fn(ctx)
	}
	c.mu.Lock()
	if f := c.inflight[credID]; f != nil {
		// another goroutine is exchanging; wait for it
		c.mu.Unlock()
		done := make(chan struct{})
		go func() { f.wg.Wait(); close(done) }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return f.err
		}
	}
	f := &flight{}
	f.wg.Add(1)
	c.inflight[credID] = f
	c.mu.Unlock()

	err := fn(ctx)
	f.err = err
	f.wg.Done()

	c.mu.Lock()
	delete(c.inflight, credID)
	c.mu.Unlock()
	return err
}
