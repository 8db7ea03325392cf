// Package scheduler defines the Scheduler interface spec.md §4.4
// describes as external to the engine's own budget: the engine only ever
// calls Schedule/NodeBuilder/RootEntries and observes promise resolutions,
// never reaches into scheduling internals. LocalScheduler is the
// deterministic, in-process oracle implementation used to drive tests and
// a standalone CLI run, grounded on the teacher's GetReadyTasks
// depth-then-name ordering.
package scheduler

import (
	"taskforge/internal/node"
	"taskforge/internal/promise"
	"taskforge/internal/step"
)

// Entry pairs a Step awaiting execution with the Promise that will carry
// its Result to dependents.
type Entry struct {
	Step    step.Step
	Promise *promise.Promise
}

// Request is an execution_request: the names of root nodes a caller wants
// resolved in this run. Task registration — turning names into Node
// values and their dependency edges — happens ahead of scheduling (spec.md
// §1 places it out of scope); a Scheduler is already fully configured with
// its graph by the time Schedule is called.
type Request struct {
	RootNames []string
}

// Scheduler produces ordered batches of ready (Step, Promise) pairs and
// tracks completion via promise resolution, per spec.md §4.4. It is the
// sole feedback channel from engine back to scheduling: the engine informs
// the scheduler of progress purely by resolving the promises the scheduler
// itself handed out.
type Scheduler interface {
	// Schedule produces a finite, non-restartable sequence of batches for
	// req. Schedule must be called exactly once per execution; the
	// returned Batches must be drained in order. An empty batch is valid
	// only when the scheduler is blocked on in-flight promises. Schedule
	// reports an error immediately if req is structurally invalid (e.g. an
	// unknown root name); otherwise errors surface only through the
	// Promises the scheduler hands out, never through Batches.Next.
	Schedule(req Request) (Batches, error)

	// NodeBuilder returns the stateless node.Builder invoked on each step
	// the scheduler hands out.
	NodeBuilder() node.Builder

	// RootEntries returns, after a Schedule run completes, the map of root
	// name to Promise so the engine can assemble Result.Finished.
	RootEntries(req Request) map[string]*promise.Promise
}

// Batches is a pull-based iterator over scheduling batches: Next returns
// without waiting, yielding an empty batch while every remaining step is
// still waiting on unresolved promises. This models
// the "lazy sequence of lists" spec.md describes without requiring Go
// generators.
type Batches interface {
	// Next returns the next batch and true, or (nil, false) once the
	// scheduler has no more batches to produce — all roots are resolved.
	Next() ([]Entry, bool)
}
