package metadata

import (
	"context"
	"sync"

	"github.com/dbcontext-go/dbcontext/internal/errs"
)

// Coordinator is the per-key concurrency gate that collapses concurrent
// misses into a single backend fetch. The first request for an absent key
// starts the fetch; every concurrent request for the same key attaches to
// the pending result instead of issuing its own. Success and failure are
// delivered identically to every attached caller, and failures are never
// cached — the next request starts a fresh fetch.
//
// A caller that abandons its wait (timeout, cancellation) detaches
// without aborting the in-flight fetch, so remaining and future callers
// still benefit from the work completing.
type Coordinator[T any] struct {
	mu      sync.Mutex
	pending map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator[T any]() *Coordinator[T] {
	return &Coordinator[T]{pending: make(map[string]*call[T])}
}

// Do returns the result of fn for key. If a fetch for key is already in
// flight, the caller attaches to it; otherwise fn runs in its own
// goroutine, detached from the caller's cancellation.
func (c *Coordinator[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if cl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return cl.wait(ctx)
	}

	cl := &call[T]{done: make(chan struct{})}
	c.pending[key] = cl
	c.mu.Unlock()

	go func() {
		// WithoutCancel: the fetch must outlive any individual waiter.
		cl.val, cl.err = fn(context.WithoutCancel(ctx))

		// Remove before signalling, so a request arriving after
		// completion starts a fresh fetch instead of attaching to a
		// finished one. Failed fetches leave no trace.
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		close(cl.done)
	}()

	return cl.wait(ctx)
}

// InFlight reports the number of keys with a pending fetch.
func (c *Coordinator[T]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (cl *call[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		var zero T
		return zero, errs.Wrap(errs.ErrKindTimeout, "abandoned wait for in-flight fetch", ctx.Err())
	}
}
