// Package engine implements the reduction-loop Engine component of
// spec.md §4.3: the loop that pulls schedulable batches from a
// scheduler.Scheduler, consults the Cache, dispatches Steps, and resolves
// the Promises that let the scheduler make forward progress. Three
// variants are provided: LocalSerialEngine (the oracle), ThreadHybridEngine,
// and MultiprocessParallelEngine.
package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"taskforge/internal/cache"
	"taskforge/internal/checkpoint"
	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/scheduler"
	"taskforge/internal/step"
	"taskforge/internal/trace"
)

// Result is Engine.Result from spec.md §3: either a finished run carrying
// root products, or a failure carrying the error that aborted reduction.
type Result struct {
	RootProducts map[string]node.Result
	Err          error
}

// Finished constructs a successful Result.
func Finished(rootProducts map[string]node.Result) Result {
	return Result{RootProducts: rootProducts}
}

// Failure constructs a failed Result.
func Failure(err error) Result {
	return Result{Err: err}
}

// Failed reports whether this Result is a failure.
func (r Result) Failed() bool { return r.Err != nil }

// TaskError wraps any error raised during reduce; Engine.Execute captures
// it rather than propagating it, per spec.md §7.
type TaskError struct{ Err error }

func (e *TaskError) Error() string { return "task error: " + e.Err.Error() }
func (e *TaskError) Unwrap() error { return e.Err }

// InFlightError reports a programmer-error condition around in_flight
// bookkeeping: a step_id submitted twice, an unknown step_id on
// completion, or await_one called against an empty pool (spec.md §7).
type InFlightError struct{ Msg string }

func (e *InFlightError) Error() string { return "in-flight error: " + e.Msg }

// StepBatchError is raised when the scheduler yields an empty batch while
// no work is pending or in flight — a scheduler livelock (spec.md §7).
type StepBatchError struct{ Msg string }

func (e *StepBatchError) Error() string { return "step batch error: " + e.Msg }

// Engine is the common interface all three reduction-loop variants satisfy.
type Engine interface {
	// Start creates any resources the engine variant needs before its
	// first Execute call (e.g. the multiprocess worker pool).
	Start(ctx context.Context) error

	// Execute runs req to completion, returning either the root products
	// or the error that aborted the run.
	Execute(ctx context.Context, req scheduler.Request) Result

	// CacheStats returns the underlying Cache's hit/miss/put/size counters.
	CacheStats() cache.Stats

	// Close releases resources. Cache and Storage are closed; pools are
	// shut down best-effort (spec.md §5: outstanding work is not
	// interrupted, only abandoned).
	Close() error
}

// base holds the state and cache-lookup helpers every engine variant
// shares: spec.md §9 notes the engine owns both Cache and Storage (no
// cyclic ownership between the two), so Close here is the single place
// that tears both down.
type base struct {
	scheduler scheduler.Scheduler
	cache     *cache.Cache
	sink      trace.Sink

	observer checkpoint.Observer
	runMu    sync.Mutex
	run      checkpoint.GraphResult
}

// SetTraceSink wires an optional trace.Sink that observes cache hits and
// executions without influencing them — see internal/trace's package doc.
// A nil sink (the default) disables recording entirely.
func (b *base) SetTraceSink(sink trace.Sink) { b.sink = sink }

// SetObserver wires an optional checkpoint.Observer that journals
// incremental GraphResult progress for post-mortem diagnosis of a crashed
// run — see internal/checkpoint's package doc. A nil observer (the
// default) disables journaling entirely. runID identifies the run this
// Execute call is about to perform; callers that want one journal entry
// per Execute call should pass a fresh checkpoint.NewRunID() each time.
func (b *base) SetObserver(runID string, observer checkpoint.Observer) {
	b.observer = observer
	b.runMu.Lock()
	b.run = checkpoint.GraphResult{
		RunID:   runID,
		Started: time.Now().UTC(),
		Steps:   map[string]checkpoint.StepProgress{},
	}
	b.runMu.Unlock()
}

// observeStep records stepKey's terminal status in the run-in-progress
// GraphResult and, if an Observer is wired, notifies it with the updated
// snapshot. A no-op when SetObserver was never called.
func (b *base) observeStep(stepKey string, status checkpoint.StepStatus, stepErr error) {
	if b.observer == nil {
		return
	}
	b.runMu.Lock()
	progress := checkpoint.StepProgress{Status: status, Timestamp: time.Now().UTC()}
	if stepErr != nil {
		progress.Err = stepErr.Error()
	}
	b.run.Steps[stepKey] = progress
	snapshot := b.run.Clone()
	b.runMu.Unlock()
	checkpoint.SafeObserve(b.observer, snapshot)
}

// observeDone marks the run-in-progress GraphResult finished and, if an
// Observer is wired, sends its final snapshot.
func (b *base) observeDone(runErr error) {
	if b.observer == nil {
		return
	}
	b.runMu.Lock()
	b.run.Done = true
	if runErr != nil {
		b.run.Err = runErr.Error()
	}
	snapshot := b.run.Clone()
	b.runMu.Unlock()
	checkpoint.SafeObserve(b.observer, snapshot)
}

// fail finalizes the run-in-progress GraphResult as failed (if an
// Observer is wired) and normalizes err into a Result.
func (b *base) fail(err error) Result {
	b.observeDone(err)
	return asTaskError(err)
}

// lookup performs the "maybe cache get" half of spec.md §4.2: if st is not
// cacheable, it reports cacheable=false and no hit. Otherwise it computes
// st's request key and looks it up; on a hit, the stored result is
// re-hydrated via Storage.ResolveResult.
func (b *base) lookup(st step.Step) (requestKey key.Key, cacheable bool, result node.Result, hit bool, err error) {
	if !st.IsCacheable() {
		return key.Key{}, false, node.Result{}, false, nil
	}
	requestKey, err = b.cache.Storage().KeyForRequest(st)
	if err != nil {
		return key.Key{}, true, node.Result{}, false, err
	}
	resultKey, ok := b.cache.Get(requestKey)
	if !ok {
		return requestKey, true, node.Result{}, false, nil
	}
	result, err = b.cache.Storage().ResolveResult(resultKey)
	if err != nil {
		return requestKey, true, node.Result{}, false, err
	}
	stepKey := strconv.FormatUint(uint64(st.StepID), 10)
	trace.SafeRecord(b.sink, trace.Event{Kind: trace.EventStepCacheHit, StepKey: stepKey})
	b.observeStep(stepKey, checkpoint.StepCached, nil)
	return requestKey, true, result, true, nil
}

// store performs the "maybe cache put" half of spec.md §4.2: a no-op
// unless cacheable, otherwise the result is written to Storage and the
// request→result binding is recorded in Cache.
func (b *base) store(stepID step.ID, requestKey key.Key, cacheable bool, result node.Result) error {
	stepKey := strconv.FormatUint(uint64(stepID), 10)
	trace.SafeRecord(b.sink, trace.Event{Kind: trace.EventStepExecuted, StepKey: stepKey})
	b.observeStep(stepKey, checkpoint.StepExecuted, nil)
	if !cacheable {
		return nil
	}
	resultKey, err := b.cache.Storage().Put(result.Value)
	if err != nil {
		return err
	}
	b.cache.Put(requestKey, resultKey)
	return nil
}

// observeStepFailure records a step's terminal failure in the
// run-in-progress GraphResult, for steps whose execution error bypasses
// store() entirely (the failing step's Promise is failed directly by the
// caller instead of proceeding to a cache put).
func (b *base) observeStepFailure(stepID step.ID, stepErr error) {
	b.observeStep(strconv.FormatUint(uint64(stepID), 10), checkpoint.StepFailed, stepErr)
}

// CacheStats implements Engine.
func (b *base) CacheStats() cache.Stats { return b.cache.Stats() }

// finish assembles Result.Finished from the scheduler's root entries,
// shared by every variant's Execute.
func (b *base) finish(ctx context.Context, req scheduler.Request) Result {
	roots := b.scheduler.RootEntries(req)
	out := make(map[string]node.Result, len(roots))
	for name, p := range roots {
		if p == nil {
			continue
		}
		res, err := p.Get(ctx)
		if err != nil {
			return b.fail(&TaskError{Err: err})
		}
		out[name] = res
	}
	b.observeDone(nil)
	return Finished(out)
}

// asTaskError normalizes an error returned from reduce into a Result, per
// spec.md §6's execute()/Result.failure contract: a TaskError becomes
// Result.failure; anything else is wrapped as one too, since reduce never
// returns anything the caller should let propagate uncaught.
func asTaskError(err error) Result {
	var te *TaskError
	if errors.As(err, &te) {
		return Failure(te)
	}
	return Failure(&TaskError{Err: err})
}
