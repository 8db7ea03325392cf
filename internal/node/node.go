// Package node defines the semantic work unit the engine schedules and
// executes: Node, its Builder, and the Result a Builder produces.
//
// Concrete Node variants are supplied by the host (goal files, generated
// plans, tests) — this package only fixes the capability surface the
// engine needs: whether a Node's result may be cached, and whether it is
// eligible for out-of-line (async/pooled) execution.
package node

import "context"

// Node is the polymorphic unit of computation scheduled by the engine.
//
// Invariant (spec.md §3): two Nodes that are equal under the host's own
// equality notion and that receive equal dependency Results must produce
// equal Results — this is what makes caching sound.
type Node interface {
	// IsCacheable reports whether results for this Node may be looked up
	// in, and written to, the Cache.
	IsCacheable() bool

	// Kind identifies the Node's concrete type for async classification
	// (see Builder/AsyncClassifier) without resorting to runtime type
	// switches at the engine boundary (spec.md §9 "Dynamic dispatch on
	// node types").
	Kind() string
}

// Builder is the stateless callable that performs a Node's computation.
//
// A single Builder instance is shared by every Step in an execution; it
// must not hold per-step mutable state. Builders running inside a
// multiprocess worker are reconstructed once per worker via WorkerInit
// (see internal/pool) rather than pickled/gob-shipped across the wire.
type Builder interface {
	// Name identifies this builder so a multiprocess worker can be told
	// which builder to reconstruct without shipping a closure.
	Name() string

	// Build executes n and returns its Result, or an error if the node's
	// own logic failed. Infrastructure failures (e.g. a worker process
	// dying) are reported separately by the pool, not through this
	// return value.
	Build(ctx context.Context, n Node) (Result, error)
}

// AsyncClassifier decides whether a Node is eligible for out-of-line
// (pooled) execution, replacing the source engine's `isinstance` checks
// against a configurable tuple of node types (spec.md §9) with an
// injectable capability query keyed on Node.Kind().
type AsyncClassifier interface {
	IsAsync(n Node) bool
}

// KindSet is an AsyncClassifier backed by a fixed set of Kind() values —
// the Go encoding of spec.md §6's `threaded_node_types: Set<NodeType>`.
type KindSet map[string]struct{}

// NewKindSet builds a KindSet from the given Kind names.
func NewKindSet(kinds ...string) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// IsAsync reports whether n's Kind() is a member of the set.
func (s KindSet) IsAsync(n Node) bool {
	_, ok := s[n.Kind()]
	return ok
}

// AlwaysAsync classifies every Node as async-eligible. MultiprocessParallelEngine
// does not consult a classifier at all: it sends every step that misses the
// cache to its worker pool.
type AlwaysAsync struct{}

// IsAsync always returns true.
func (AlwaysAsync) IsAsync(Node) bool { return true }

// NeverAsync classifies every Node as synchronous — ThreadHybridEngine's
// default classifier, under which every step runs inline and the thread
// pool is never used.
type NeverAsync struct{}

// IsAsync always returns false.
func (NeverAsync) IsAsync(Node) bool { return false }
