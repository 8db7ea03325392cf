package engine

import (
	"context"

	"taskforge/internal/cache"
	"taskforge/internal/scheduler"
)

// LocalSerialEngine runs tasks locally and serially, in process: the
// oracle implementation spec.md §4.3 names for correctness tests against
// the other variants.
type LocalSerialEngine struct {
	base
}

// NewLocalSerialEngine builds a LocalSerialEngine driving sched and caching
// through c.
func NewLocalSerialEngine(sched scheduler.Scheduler, c *cache.Cache) *LocalSerialEngine {
	return &LocalSerialEngine{base{scheduler: sched, cache: c}}
}

// Start implements Engine. The serial engine needs no setup.
func (e *LocalSerialEngine) Start(context.Context) error { return nil }

// Close implements Engine.
func (e *LocalSerialEngine) Close() error { return e.cache.Close() }

// Execute implements Engine.
func (e *LocalSerialEngine) Execute(ctx context.Context, req scheduler.Request) Result {
	if err := e.reduce(ctx, req); err != nil {
		return e.fail(err)
	}
	return e.finish(ctx, req)
}

// reduce is the serial reduction loop from spec.md §4.3: for each batch,
// for each (step, promise), cache-get; on miss execute and cache-put;
// resolve the promise.
func (e *LocalSerialEngine) reduce(ctx context.Context, req scheduler.Request) error {
	builder := e.scheduler.NodeBuilder()
	batches, err := e.scheduler.Schedule(req)
	if err != nil {
		return err
	}

	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		for _, entry := range batch {
			requestKey, cacheable, result, hit, err := e.lookup(entry.Step)
			if err != nil {
				return err
			}
			if !hit {
				result, err = entry.Step.Call(ctx, builder)
				if err != nil {
					entry.Promise.Failure(err)
					e.observeStepFailure(entry.Step.StepID, err)
					return err
				}
				if err := e.store(entry.Step.StepID, requestKey, cacheable, result); err != nil {
					return err
				}
			}
			entry.Promise.Success(result)
		}
	}
	return nil
}
