// Package step defines the Step (a.k.a. StepRequest): a Node paired with its
// already-resolved dependency Results. The Promise a caller awaits for a
// Step's outcome is paired with it separately, in scheduler.Entry.
package step

import (
	"context"
	"sync/atomic"

	"taskforge/internal/node"
)

// ID is a process-local, monotonically assigned Step identifier. It has no
// meaning across process restarts and is never itself a cache key.
type ID uint64

var idCounter uint64

// NextID allocates a fresh, process-unique Step ID.
func NextID() ID {
	return ID(atomic.AddUint64(&idCounter, 1))
}

// Step is an immutable unit of scheduled work: a Node plus the Results of
// its dependencies, resolved before the Step was created.
//
// Invariant (spec.md §3): two Steps with the same keyed form (see
// internal/storage.KeyForRequest) must produce equal Results, since the
// Node is pure with respect to the Builder.
type Step struct {
	StepID       ID
	Node         node.Node
	Dependencies []node.Result
}

// New builds a Step with a freshly allocated ID.
func New(n node.Node, deps []node.Result) Step {
	return Step{StepID: NextID(), Node: n, Dependencies: deps}
}

// IsCacheable reports whether this Step's Node declares itself cacheable.
func (s Step) IsCacheable() bool {
	return s.Node != nil && s.Node.IsCacheable()
}

// Call executes the Step by delegating to the given Builder. Dependency
// Results are not re-passed to the Node here: concrete Node
// implementations capture whatever dependency data they need at
// construction time (see internal/goalfile), and Step.Dependencies exists
// for cache-key canonicalization and scheduler bookkeeping, not for
// re-threading values into Builder.Build.
func (s Step) Call(ctx context.Context, nb node.Builder) (node.Result, error) {
	return nb.Build(ctx, s.Node)
}
