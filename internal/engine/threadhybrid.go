package engine

import (
	"context"
	"fmt"
	"runtime"

	"taskforge/internal/cache"
	"taskforge/internal/node"
	"taskforge/internal/pool"
	"taskforge/internal/promise"
	"taskforge/internal/scheduler"
	"taskforge/internal/step"
)

// ThreadHybridEngine runs locally but dispatches nodes classified as async
// (spec.md §9's AsyncClassifier capability) to a bounded thread pool,
// running everything else inline. Hides cache latency for I/O-bound nodes
// by racing a cache-fetch task against a compute task per spec.md §4.3.
type ThreadHybridEngine struct {
	base
	size       int
	classifier node.AsyncClassifier
	builder    node.Builder
	threadPool *pool.ThreadPool
	completed  chan completion
}

type completion struct {
	stepID step.ID
	result node.Result
	err    error
}

// ThreadHybridOption configures a ThreadHybridEngine at construction.
type ThreadHybridOption func(*ThreadHybridEngine)

// WithPoolSize overrides the default 2×cores worker count. Per spec.md §8,
// a non-positive size falls back to the default rather than erroring.
func WithPoolSize(size int) ThreadHybridOption {
	return func(e *ThreadHybridEngine) {
		if size > 0 {
			e.size = size
		}
	}
}

// WithAsyncClassifier overrides the default node.NeverAsync classifier.
func WithAsyncClassifier(c node.AsyncClassifier) ThreadHybridOption {
	return func(e *ThreadHybridEngine) { e.classifier = c }
}

// NewThreadHybridEngine builds a ThreadHybridEngine over sched and c.
func NewThreadHybridEngine(sched scheduler.Scheduler, c *cache.Cache, opts ...ThreadHybridOption) *ThreadHybridEngine {
	e := &ThreadHybridEngine{
		base:       base{scheduler: sched, cache: c},
		size:       2 * runtime.NumCPU(),
		classifier: node.NeverAsync{},
		builder:    sched.NodeBuilder(),
		completed:  make(chan completion, 64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start implements Engine: spins up the bounded thread pool.
func (e *ThreadHybridEngine) Start(context.Context) error {
	e.threadPool = pool.NewThreadPool(e.size)
	return nil
}

// Close implements Engine.
func (e *ThreadHybridEngine) Close() error {
	if e.threadPool != nil {
		e.threadPool.Close()
	}
	return e.cache.Close()
}

// Execute implements Engine.
func (e *ThreadHybridEngine) Execute(ctx context.Context, req scheduler.Request) Result {
	if err := reduceConcurrent(e.scheduler, req, &threadHybridStrategy{engine: e}); err != nil {
		return e.fail(err)
	}
	return e.finish(ctx, req)
}

type threadHybridStrategy struct {
	engine *ThreadHybridEngine
}

func (s *threadHybridStrategy) poolSize() int { return s.engine.size }

func (s *threadHybridStrategy) submitUntil(pending *pendingQueue, inFlight map[step.ID]*promise.Promise, n int) (int, error) {
	e := s.engine
	toSubmit := minInt(pending.len()-n, e.size-len(inFlight))
	submitted := 0
	for i := 0; i < toSubmit; i++ {
		entry, ok := pending.popFront()
		if !ok {
			break
		}
		if e.classifier.IsAsync(entry.Step.Node) {
			if _, exists := inFlight[entry.Step.StepID]; exists {
				return submitted, &InFlightError{Msg: fmt.Sprintf("step %d is already in flight", entry.Step.StepID)}
			}
			inFlight[entry.Step.StepID] = entry.Promise
			e.submitAsync(entry.Step)
			submitted++
			continue
		}

		requestKey, cacheable, result, hit, err := e.lookup(entry.Step)
		if err != nil {
			return submitted, err
		}
		if !hit {
			result, err = entry.Step.Call(context.Background(), e.builder)
			if err != nil {
				entry.Promise.Failure(err)
				e.observeStepFailure(entry.Step.StepID, err)
				return submitted, err
			}
			if err := e.store(entry.Step.StepID, requestKey, cacheable, result); err != nil {
				return submitted, err
			}
		}
		entry.Promise.Success(result)
	}
	return submitted, nil
}

func (s *threadHybridStrategy) awaitOne(inFlight map[step.ID]*promise.Promise) error {
	if len(inFlight) == 0 {
		return &InFlightError{Msg: "awaited an empty pool"}
	}
	// Each async step races two tasks (cache-fetch, compute); whichever of
	// the two lands second for an already-resolved step is a redundant
	// completion, not an error, so it is drained here rather than in the
	// submitting goroutine.
	for {
		c := <-s.engine.completed
		if c.err != nil {
			return c.err
		}
		p, ok := inFlight[c.stepID]
		if !ok {
			continue
		}
		delete(inFlight, c.stepID)
		p.Success(c.result)
		return nil
	}
}

// submitAsync runs two tasks in parallel for st, per spec.md §4.3: a
// cache-fetch and a compute. The first to yield a result wins; the
// cache-fetch task sends nothing on a miss rather than posting an empty
// result, which is the drained-silently behavior spec.md describes without
// needing an explicit filtering loop on the receive side.
//
// Open question (spec.md §9, preserved as-is): the compute task may
// cache_put an identical value even after a concurrent cache-fetch hit
// resolved the step first — harmless since Cache.Put is idempotent, but it
// does spend the compute work. Not fenced on cache miss, intentionally.
func (e *ThreadHybridEngine) submitAsync(st step.Step) {
	e.threadPool.Go(func() {
		_, cacheable, result, hit, err := e.lookup(st)
		if err != nil {
			e.completed <- completion{stepID: st.StepID, err: err}
			return
		}
		if !cacheable || !hit {
			return
		}
		e.completed <- completion{stepID: st.StepID, result: result}
	})
	e.threadPool.Go(func() {
		requestKey, cacheable, _, _, err := e.lookup(st)
		if err != nil {
			e.completed <- completion{stepID: st.StepID, err: err}
			return
		}
		result, err := st.Call(context.Background(), e.builder)
		if err != nil {
			e.observeStepFailure(st.StepID, err)
			e.completed <- completion{stepID: st.StepID, err: err}
			return
		}
		if err := e.store(st.StepID, requestKey, cacheable, result); err != nil {
			e.completed <- completion{stepID: st.StepID, err: err}
			return
		}
		e.completed <- completion{stepID: st.StepID, result: result}
	})
}
