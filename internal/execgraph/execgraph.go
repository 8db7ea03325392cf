// Package execgraph implements a self-contained DAG runner, distinct from
// the engine reduction loop in internal/engine: jobs are plain functions
// with string keys and optional success/failure callbacks, submitted to a
// caller-supplied work pool and run in dependency order.
package execgraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskforge/internal/trace"
)

// Job is one node of the graph: a unit of work identified by Key, a list
// of dependency keys that must succeed first, and optional callbacks
// invoked after the work completes.
type Job struct {
	Key          string
	Fn           func() error
	Dependencies []string
	OnSuccess    func() error
	OnFailure    func() error
}

// Work is handed to a Pool for execution; the pool decides when and where
// Fn actually runs.
type Work struct {
	Fn func()
}

// Pool accepts work for asynchronous (or inline) execution. A pool that
// runs Fn synchronously inside SubmitAsyncWork is a valid implementation;
// see ImmediatePool.
type Pool interface {
	SubmitAsyncWork(work Work)
}

// Logger carries the only two logging obligations ExecutionGraph has.
type Logger interface {
	Error(msg string)
	Debug(msg string)
}

// ImmediatePool runs submitted work inline, on the calling goroutine. It
// is useful for deterministic, serial execution and for tests that assert
// on exact run order.
type ImmediatePool struct{}

func (ImmediatePool) SubmitAsyncWork(work Work) { work.Fn() }

// state tracks a job's lifecycle.
type state int

const (
	pending state = iota
	success
	failed
	canceled
)

type failureRecord struct {
	Key     string
	Message string
}

// ExecutionGraph owns a fixed set of Jobs and the forward/reverse edges
// derived from their dependencies at construction time.
type ExecutionGraph struct {
	jobs         map[string]*Job
	order        []string
	dependents   map[string][]string
	pendingCount map[string]int
	initialReady []string

	mu        sync.Mutex
	state     map[string]state
	failures  []*failureRecord
	remaining int
	done      chan struct{}
	pool      Pool
	logger    Logger
	sink      trace.Sink
}

// SetTraceSink wires an optional trace.Sink that observes job terminal
// states without influencing them. A nil sink (the default) disables
// recording entirely.
func (g *ExecutionGraph) SetTraceSink(sink trace.Sink) { g.sink = sink }

// JobExistsError is raised from NewExecutionGraph when two jobs share a key.
type JobExistsError struct{ Key string }

func (e *JobExistsError) Error() string {
	return fmt.Sprintf("unexecutable graph: job already scheduled %q", e.Key)
}

// UnknownJobError is raised from NewExecutionGraph when a job depends on a
// key that was never defined.
type UnknownJobError struct{ Keys []string }

func (e *UnknownJobError) Error() string {
	quoted := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		quoted[i] = fmt.Sprintf("'%s'", k)
	}
	return fmt.Sprintf("Unexecutable graph: Undefined dependencies %s", strings.Join(quoted, ", "))
}

// NoRootJobError is raised from NewExecutionGraph when no job has zero
// dependencies — either because the job set is empty or because every job
// is part of a cycle.
type NoRootJobError struct{ Msg string }

func (e *NoRootJobError) Error() string { return e.Msg }

// ExecutionFailure is raised from Execute when one or more jobs failed.
type ExecutionFailure struct{ Msg string }

func (e *ExecutionFailure) Error() string { return e.Msg }

// NewExecutionGraph validates jobs and derives the ready set. It does not
// run anything; call Execute to do that.
func NewExecutionGraph(jobs []Job) (*ExecutionGraph, error) {
	byKey := make(map[string]*Job, len(jobs))
	order := make([]string, 0, len(jobs))
	for i := range jobs {
		j := &jobs[i]
		if _, exists := byKey[j.Key]; exists {
			return nil, &JobExistsError{Key: j.Key}
		}
		byKey[j.Key] = j
		order = append(order, j.Key)
	}

	unknownSet := make(map[string]struct{})
	for _, j := range jobs {
		for _, dep := range j.Dependencies {
			if _, ok := byKey[dep]; !ok {
				unknownSet[dep] = struct{}{}
			}
		}
	}
	if len(unknownSet) > 0 {
		unknown := make([]string, 0, len(unknownSet))
		for k := range unknownSet {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, &UnknownJobError{Keys: unknown}
	}

	if len(jobs) == 0 {
		return nil, &NoRootJobError{Msg: "unexecutable graph: no jobs to schedule"}
	}

	dependents := make(map[string][]string, len(jobs))
	pendingCount := make(map[string]int, len(jobs))
	for _, j := range jobs {
		pendingCount[j.Key] = len(j.Dependencies)
		for _, dep := range j.Dependencies {
			dependents[dep] = append(dependents[dep], j.Key)
		}
	}

	var ready []string
	for _, k := range order {
		if pendingCount[k] == 0 {
			ready = append(ready, k)
		}
	}
	if len(ready) == 0 {
		return nil, &NoRootJobError{Msg: "Unexecutable graph: All scheduled jobs have dependencies. There must be a circular dependency."}
	}

	st := make(map[string]state, len(jobs))
	for _, k := range order {
		st[k] = pending
	}

	return &ExecutionGraph{
		jobs:         byKey,
		order:        order,
		dependents:   dependents,
		pendingCount: pendingCount,
		initialReady: ready,
		state:        st,
	}, nil
}

// Execute runs the graph to completion against pool, using logger for its
// two logging obligations. It blocks until every job has reached a
// terminal state (success, failed, or canceled).
func (g *ExecutionGraph) Execute(pool Pool, logger Logger) error {
	g.mu.Lock()
	g.pool = pool
	g.logger = logger
	g.remaining = len(g.order)
	g.failures = nil
	g.done = make(chan struct{})
	ready := append([]string(nil), g.initialReady...)
	g.mu.Unlock()

	for _, k := range ready {
		g.dispatch(k)
	}

	<-g.done

	g.mu.Lock()
	failures := append([]*failureRecord(nil), g.failures...)
	g.mu.Unlock()

	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 && failures[0].Message != "" {
		return &ExecutionFailure{Msg: failures[0].Message}
	}
	keys := make([]string, len(failures))
	for i, f := range failures {
		keys[i] = f.Key
	}
	return &ExecutionFailure{Msg: fmt.Sprintf("Failed jobs: %s", strings.Join(keys, ", "))}
}

func (g *ExecutionGraph) dispatch(key string) {
	job := g.jobs[key]
	g.logger.Debug(fmt.Sprintf("scheduling job %s", key))
	g.pool.SubmitAsyncWork(Work{Fn: func() {
		err := job.Fn()
		g.onJobDone(key, err)
	}})
}

func (g *ExecutionGraph) onJobDone(key string, workErr error) {
	job := g.jobs[key]
	var toDispatch []string

	g.mu.Lock()
	if workErr != nil {
		g.logger.Error(fmt.Sprintf("job %s failed: %v", key, workErr))
		g.state[key] = failed
		rec := &failureRecord{Key: key}
		g.failures = append(g.failures, rec)
		if job.OnFailure != nil {
			if cbErr := job.OnFailure(); cbErr != nil {
				rec.Message = fmt.Sprintf("Error in on_failure for %s: %v", key, cbErr)
				g.logger.Error(rec.Message)
			}
		}
		trace.SafeRecord(g.sink, trace.Event{Kind: trace.EventStepFailed, StepKey: key, Reason: rec.Message})
		g.cancelDependentsLocked(key)
		g.remaining--
	} else {
		g.state[key] = success
		callbackFailed := false
		if job.OnSuccess != nil {
			if cbErr := job.OnSuccess(); cbErr != nil {
				callbackFailed = true
				msg := fmt.Sprintf("Error in on_success for %s: %v", key, cbErr)
				g.logger.Error(msg)
				g.state[key] = failed
				g.failures = append(g.failures, &failureRecord{Key: key, Message: msg})
				trace.SafeRecord(g.sink, trace.Event{Kind: trace.EventStepFailed, StepKey: key, Reason: msg})
				g.cancelDependentsLocked(key)
			}
		}
		if !callbackFailed {
			trace.SafeRecord(g.sink, trace.Event{Kind: trace.EventStepExecuted, StepKey: key})
			for _, d := range g.dependents[key] {
				g.pendingCount[d]--
				if g.pendingCount[d] == 0 {
					toDispatch = append(toDispatch, d)
				}
			}
		}
		g.remaining--
	}
	done := g.remaining == 0
	g.mu.Unlock()

	for _, d := range toDispatch {
		g.dispatch(d)
	}
	if done {
		close(g.done)
	}
}

// cancelDependentsLocked marks every job transitively depending on key as
// canceled, provided it has not already reached a terminal state. Must be
// called with g.mu held.
func (g *ExecutionGraph) cancelDependentsLocked(key string) {
	queue := append([]string(nil), g.dependents[key]...)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if g.state[d] != pending {
			continue
		}
		g.state[d] = canceled
		g.remaining--
		trace.SafeRecord(g.sink, trace.Event{Kind: trace.EventStepCanceled, StepKey: d, CausedBy: key})
		queue = append(queue, g.dependents[d]...)
	}
}
