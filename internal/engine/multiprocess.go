package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"taskforge/internal/cache"
	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/pool"
	"taskforge/internal/promise"
	"taskforge/internal/scheduler"
	"taskforge/internal/step"
	"taskforge/internal/workerwire"
)

// dsnStorage is implemented by storage.Postgres. Only a backend that can
// hand back its own connection string can be shared with a real,
// separate-process worker — internal/storage.Memory has no equivalent
// because its state lives in one process's heap.
type dsnStorage interface {
	DSN() string
}

// MultiprocessParallelEngine runs ready steps on a fixed-size pool of
// worker subprocesses, each spawned once via os/exec and initialized with
// (node_builder_name, storage_dsn). Only keys cross the pool boundary:
// requests are sent as request keys, responses as result keys, bounding
// IPC bandwidth per spec.md §5.
//
// internal/pool.StatefulPool does the actual spawning and speaks
// internal/workerwire over each worker's stdio; see its doc comment. Worker
// subprocesses resolve requests and store results against the same
// backing database the engine itself reads from, so this engine requires
// a Storage backend workers can reach independently — storage.Postgres,
// never storage.Memory, whose content lives only in this process's heap.
type MultiprocessParallelEngine struct {
	base
	size          int
	debug         bool
	builder       node.Builder
	workerCommand string
	workerArgs    []string
	workerEnv     []string
	workers       *pool.StatefulPool
}

// MultiprocessOption configures a MultiprocessParallelEngine.
type MultiprocessOption func(*MultiprocessParallelEngine)

// WithMultiprocessPoolSize overrides the default 2×cores worker count.
func WithMultiprocessPoolSize(size int) MultiprocessOption {
	return func(e *MultiprocessParallelEngine) {
		if size > 0 {
			e.size = size
		}
	}
}

// WithDebugSerialization turns on eager result serialization in workers
// (spec.md §4.3 step 3): catches non-serializable results early, at the
// cost of an extra encode per step.
func WithDebugSerialization(debug bool) MultiprocessOption {
	return func(e *MultiprocessParallelEngine) { e.debug = debug }
}

// WithWorkerCommand overrides the command (and leading arguments) used to
// spawn each worker subprocess. Unset, Start resolves the running
// executable and appends "__worker" — re-invoking the same binary, per
// spec.md §5. Tests that cannot exec a real taskforge binary point this
// at a self-exec'd test helper instead.
func WithWorkerCommand(command string, args ...string) MultiprocessOption {
	return func(e *MultiprocessParallelEngine) {
		e.workerCommand = command
		e.workerArgs = args
	}
}

// WithWorkerEnv adds environment variables (in addition to the current
// process's own environment) to every spawned worker subprocess. Tests
// use this to flag a self-exec'd test binary into its worker-helper mode.
func WithWorkerEnv(env ...string) MultiprocessOption {
	return func(e *MultiprocessParallelEngine) { e.workerEnv = env }
}

// NewMultiprocessParallelEngine builds a MultiprocessParallelEngine over
// sched and c.
func NewMultiprocessParallelEngine(sched scheduler.Scheduler, c *cache.Cache, opts ...MultiprocessOption) *MultiprocessParallelEngine {
	e := &MultiprocessParallelEngine{
		base:    base{scheduler: sched, cache: c},
		size:    2 * runtime.NumCPU(),
		builder: sched.NodeBuilder(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start implements Engine: spawns size worker subprocesses, each sent one
// InitEnvelope naming the node builder and the Storage DSN they share
// with this engine (spec.md §9's WorkerInit re-architecture).
func (e *MultiprocessParallelEngine) Start(context.Context) error {
	dsn, ok := e.cache.Storage().(dsnStorage)
	if !ok {
		return fmt.Errorf("multiprocess engine requires a Storage backend workers can reach independently (e.g. storage.Postgres), got %T", e.cache.Storage())
	}

	command, args, err := e.resolveWorkerCommand()
	if err != nil {
		return err
	}

	spec := pool.ProcessSpec{
		Command: command,
		Args:    args,
		Env:     e.workerEnv,
		Init: workerwire.InitEnvelope{
			BuilderName: e.builder.Name(),
			PostgresDSN: dsn.DSN(),
			Debug:       e.debug,
		},
	}
	workers, err := pool.NewStatefulPool(e.size, spec)
	if err != nil {
		return err
	}
	e.workers = workers
	return nil
}

// resolveWorkerCommand returns the command used to spawn each worker:
// WithWorkerCommand's override if set, otherwise the running executable
// re-invoked with "__worker" (spec.md §5: "the same binary re-invoked").
func (e *MultiprocessParallelEngine) resolveWorkerCommand() (string, []string, error) {
	if e.workerCommand != "" {
		return e.workerCommand, e.workerArgs, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolving self for worker subprocesses: %w", err)
	}
	return self, []string{"__worker"}, nil
}

// Close implements Engine.
func (e *MultiprocessParallelEngine) Close() error {
	if e.workers != nil {
		e.workers.Close()
	}
	return e.cache.Close()
}

// Execute implements Engine.
func (e *MultiprocessParallelEngine) Execute(ctx context.Context, req scheduler.Request) Result {
	if err := reduceConcurrent(e.scheduler, req, &multiprocessStrategy{engine: e}); err != nil {
		return e.fail(err)
	}
	return e.finish(ctx, req)
}

type multiprocessStrategy struct {
	engine *MultiprocessParallelEngine
}

func (s *multiprocessStrategy) poolSize() int { return s.engine.size }

func (s *multiprocessStrategy) submitUntil(pending *pendingQueue, inFlight map[step.ID]*promise.Promise, n int) (int, error) {
	e := s.engine
	toSubmit := minInt(pending.len()-n, e.size-len(inFlight))
	submitted := 0
	for i := 0; i < toSubmit; i++ {
		entry, ok := pending.popFront()
		if !ok {
			break
		}
		st := entry.Step

		requestKey, err := e.cache.Storage().KeyForRequest(st)
		if err != nil {
			return submitted, err
		}
		if st.IsCacheable() {
			if resultKey, hit := e.cache.Get(requestKey); hit {
				result, err := e.cache.Storage().ResolveResult(resultKey)
				if err != nil {
					return submitted, err
				}
				entry.Promise.Success(result)
				continue
			}
		}

		if _, exists := inFlight[st.StepID]; exists {
			return submitted, &InFlightError{Msg: fmt.Sprintf("step %d is already in flight", st.StepID)}
		}
		inFlight[st.StepID] = entry.Promise
		e.workers.Submit(pool.Task{ID: uint64(st.StepID), Payload: requestKey[:]})
		submitted++
	}
	return submitted, nil
}

func (s *multiprocessStrategy) awaitOne(inFlight map[step.ID]*promise.Promise) error {
	e := s.engine
	if len(inFlight) == 0 {
		return &InFlightError{Msg: "awaited an empty pool"}
	}
	r := e.workers.AwaitOneResult()
	if r.Err != nil {
		e.observeStepFailure(step.ID(r.ID), r.Err)
		return r.Err
	}
	stepID := step.ID(r.ID)
	p, ok := inFlight[stepID]
	if !ok {
		return &InFlightError{Msg: fmt.Sprintf("received unexpected step id %d from worker pool", stepID)}
	}

	var resultKey key.Key
	copy(resultKey[:], r.Payload)
	result, err := e.cache.Storage().ResolveResult(resultKey)
	if err != nil {
		return err
	}

	delete(inFlight, stepID)
	p.Success(result)
	return nil
}
