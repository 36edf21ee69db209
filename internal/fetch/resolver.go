package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type resolution int

const (
	unresolved resolution = iota
	resolving
	resolved
)

// Resolver runs a resolution at most once per key until the key is
// invalidated. Concurrent requests for the same key share one run.
type Resolver struct {
	mu    sync.Mutex
	state map[string]resolution
	// gen changes on Invalidate so a run started before it cannot mark
	// the key resolved afterwards
	gen    map[string]uint64
	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewResolver returns a Resolver whose runs use a context derived from
// ctx. Close cancels it.
func NewResolver(ctx context.Context) *Resolver {
	ctx, cancel := context.WithCancel(ctx)
	return &Resolver{
		state:  make(map[string]resolution),
		gen:    make(map[string]uint64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger starts fn in the background unless key has already been
// started. It reports whether a new run was started.
func (r *Resolver) Trigger(key string, fn func(ctx context.Context)) bool {
	if !r.claim(key) {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _, _ = r.group.Do(key, func() (any, error) {
			r.run(key, fn)
			return nil, nil
		})
	}()
	return true
}

// Resolve runs fn for key unless it has already resolved, waiting for
// an in-flight run if there is one. ctx only bounds the wait; the run
// itself continues if ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, key string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	st := r.state[key]
	if st == unresolved {
		r.state[key] = resolving
	}
	r.mu.Unlock()
	if st == resolved {
		return nil
	}

	done := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		_, _, _ = r.group.Do(key, func() (any, error) {
			r.run(key, fn)
			return nil, nil
		})
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) claim(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state[key] != unresolved {
		return false
	}
	r.state[key] = resolving
	return true
}

// run is always called inside the singleflight group for key
func (r *Resolver) run(key string, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.state[key] == resolved {
		// a previous flight for key completed before this one began
		r.mu.Unlock()
		return
	}
	r.state[key] = resolving
	gen := r.gen[key]
	r.mu.Unlock()

	fn(r.ctx)
	r.mu.Lock()
	if r.gen[key] == gen && r.state[key] == resolving {
		r.state[key] = resolved
	}
	r.mu.Unlock()
}

// HasStarted reports whether key is resolving or resolved
func (r *Resolver) HasStarted(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[key] != unresolved
}

// HasFinished reports whether key has resolved
func (r *Resolver) HasFinished(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[key] == resolved
}

// IsResolving reports whether a run for key is in progress
func (r *Resolver) IsResolving(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[key] == resolving
}

// Invalidate forgets key so the next Trigger or Resolve runs again.
// A run already in flight still completes, but later callers do not
// share it.
func (r *Resolver) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, key)
	r.gen[key]++
	r.group.Forget(key)
}

// Wait blocks until every background run has returned
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// Close cancels in-flight runs and waits for them
func (r *Resolver) Close() {
	r.cancel()
	r.wg.Wait()
}
