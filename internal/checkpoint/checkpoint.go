// Package checkpoint implements a same-host progress journal for Engine
// runs, adapted from the teacher's internal/recovery/state package: an
// Observer an engine is given persists a GraphResult snapshot to disk as
// steps complete, so a run that crashes mid-flight (most plausibly a
// multiprocess run, where a worker subprocess can simply be killed) can be
// diagnosed afterward from what is on disk.
//
// This is a diagnostic journal, not a resume mechanism: the teacher's
// ResumeEligibilityChecker decides whether a *new* run may reuse a
// previous one's workspace and invalidation state, which belongs to a
// project/workspace model this system does not have. Loading a
// GraphResult back only tells a caller what happened, never how to
// restart execution from it.
package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// StepStatus is the terminal state one step of a run has reached. The
// vocabulary mirrors internal/trace's EventKind rather than the teacher's
// own Checkpoint/Failure taxonomy, since this journal and the trace
// package describe the same decisions from two different angles
// (point-in-time snapshot vs. deterministic event log).
type StepStatus string

const (
	StepCached   StepStatus = "cached"
	StepExecuted StepStatus = "executed"
	StepFailed   StepStatus = "failed"
)

// StepProgress is one GraphResult entry: what happened to a single step,
// and when.
type StepProgress struct {
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Err       string     `json:"err,omitempty"`
}

// GraphResult is the durable, incrementally updated snapshot of one
// Engine.Execute run an Observer persists as it progresses. It is named
// after engine.Result, since it tracks the same run viewed mid-flight
// rather than only at completion.
type GraphResult struct {
	RunID   string                  `json:"run_id"`
	Started time.Time               `json:"started"`
	Steps   map[string]StepProgress `json:"steps"`
	Done    bool                    `json:"done"`
	Err     string                  `json:"err,omitempty"`
}

// Validate enforces the same non-empty-identifier discipline the
// teacher's Run/Checkpoint/Failure models apply to their own fields.
func (g GraphResult) Validate() error {
	if g.RunID == "" {
		return errors.New("checkpoint: run_id is required")
	}
	if g.Started.IsZero() {
		return errors.New("checkpoint: started is required")
	}
	return nil
}

// Clone returns a deep copy of g, so a caller holding mutable run state
// can hand a point-in-time snapshot to an Observer without the Observer
// racing further mutation of the original.
func (g GraphResult) Clone() GraphResult {
	steps := make(map[string]StepProgress, len(g.Steps))
	for k, v := range g.Steps {
		steps[k] = v
	}
	g.Steps = steps
	return g
}

// NewRunID returns a random 128-bit hex run identifier. The journal has
// no need for a deterministic or sortable format, so this mirrors the
// teacher's FailureRecorder.NewRunID.
func NewRunID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Observer is notified as an Engine run makes progress, so a caller can
// persist partial GraphResult progress for post-mortem diagnosis of a
// crashed run. Implementations must be inert, same as internal/trace.Sink:
// Observe must not panic and must not feed back into execution.
type Observer interface {
	Observe(result GraphResult)
}

// SafeObserve notifies o and guarantees inertness even if o panics
// internally, so a misbehaving Observer cannot take down a run it is only
// meant to be watching.
func SafeObserve(o Observer, result GraphResult) {
	if o == nil {
		return
	}
	defer func() { _ = recover() }()
	o.Observe(result)
}
