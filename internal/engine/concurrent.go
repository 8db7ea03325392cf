package engine

import (
	"taskforge/internal/promise"
	"taskforge/internal/scheduler"
	"taskforge/internal/step"
)

// pendingQueue is the insertion-ordered set of (Step, Promise) pairs
// awaiting dispatch spec.md §4.3 calls pending_submission: a plain FIFO
// suffices since batches are only ever appended and popped from the
// front.
type pendingQueue struct {
	items []scheduler.Entry
}

func (q *pendingQueue) push(entries []scheduler.Entry) {
	q.items = append(q.items, entries...)
}

func (q *pendingQueue) popFront() (scheduler.Entry, bool) {
	if len(q.items) == 0 {
		return scheduler.Entry{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *pendingQueue) len() int { return len(q.items) }

// concurrentStrategy is what distinguishes ThreadHybridEngine from
// MultiprocessParallelEngine: both share the reduction loop in
// reduceConcurrent, differing only in how a batch of ready steps gets
// submitted and how one completion is awaited.
type concurrentStrategy interface {
	poolSize() int
	submitUntil(pending *pendingQueue, inFlight map[step.ID]*promise.Promise, n int) (int, error)
	awaitOne(inFlight map[step.ID]*promise.Promise) error
}

// reduceConcurrent implements the shared reduction loop spec.md §4.3
// describes: submit and await to keep the pool saturated, forcing at
// least one submission and one await per scheduling iteration, then drain
// whatever remains once the scheduler is exhausted.
func reduceConcurrent(sched scheduler.Scheduler, req scheduler.Request, strat concurrentStrategy) error {
	pending := &pendingQueue{}
	inFlight := make(map[step.ID]*promise.Promise)

	batches, err := sched.Schedule(req)
	if err != nil {
		return err
	}

	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		if len(batch) == 0 {
			if len(inFlight) == 0 && pending.len() == 0 {
				return &StepBatchError{Msg: "scheduler provided an empty batch while no work is in progress"}
			}
		} else {
			pending.push(batch)
			for {
				n, err := strat.submitUntil(pending, inFlight, strat.poolSize())
				if err != nil {
					return err
				}
				if n <= 0 {
					break
				}
				if err := strat.awaitOne(inFlight); err != nil {
					return err
				}
			}
		}
		// Force at least one submission and one await per outer iteration.
		if _, err := strat.submitUntil(pending, inFlight, 0); err != nil {
			return err
		}
		if len(inFlight) > 0 {
			if err := strat.awaitOne(inFlight); err != nil {
				return err
			}
		}
	}

	for pending.len() > 0 || len(inFlight) > 0 {
		if _, err := strat.submitUntil(pending, inFlight, strat.poolSize()); err != nil {
			return err
		}
		if len(inFlight) > 0 {
			if err := strat.awaitOne(inFlight); err != nil {
				return err
			}
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
