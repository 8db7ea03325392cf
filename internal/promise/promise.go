// Package promise implements the Promise component of spec.md §3/§4.3: a
// single-assignment result slot awaited by dependents. A Promise holds at
// most one terminal assignment (either a success value or a failure error);
// once set, later assignments are no-ops and every reader observes the same
// terminal state.
package promise

import (
	"context"
	"sync"

	"taskforge/internal/node"
)

// Promise is a single-assignment slot for a node.Result, satisfied exactly
// once by either Success or Failure. It is safe for concurrent use: multiple
// goroutines may call Get concurrently, and exactly one call among
// concurrent Success/Failure calls wins.
type Promise struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   node.Result
	err      error
}

// New returns an unresolved Promise.
func New() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Success resolves the promise with result. If the promise is already
// resolved (by either Success or Failure), Success is a no-op: the
// invariant is at most one terminal assignment, and first writer wins.
func (p *Promise) Success(result node.Result) {
	p.resolve(result, nil)
}

// Failure resolves the promise with err. Same first-writer-wins semantics
// as Success.
func (p *Promise) Failure(err error) {
	p.resolve(node.Result{}, err)
}

func (p *Promise) resolve(result node.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.result = result
	p.err = err
	close(p.done)
}

// Get blocks until the promise is resolved or ctx is done, whichever comes
// first. Every reader observes whichever terminal state was set first.
func (p *Promise) Get(ctx context.Context) (node.Result, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, p.err
	case <-ctx.Done():
		return node.Result{}, ctx.Err()
	}
}

// Resolved reports whether the promise has a terminal assignment yet,
// without blocking.
func (p *Promise) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
