// Package trace records a deterministic, canonical log of what the engine
// and ExecutionGraph decided during a run: cache hits, executions,
// failures, and cancellations. It is purely observational — recording
// must never affect execution behavior — and is meant to be diffed across
// runs of the same deterministic request to confirm the engine made the
// same decisions.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical, deterministic record of one execution.
//
// Invariants:
//   - Captures a RunKey (the root request's identity, caller-supplied) and
//     an ordered list of events.
//   - Contains logical transitions/decisions, not runtime-dependent details
//     (no timestamps, no pointers, no goroutine-scheduling artifacts).
//   - Events are sorted into canonical order by Canonicalize() before
//     hashing or JSON encoding, so two runs that made the same decisions in
//     a different wall-clock order produce byte-identical traces.
type ExecutionTrace struct {
	RunKey string
	Events []Event
}

// EventKind is the stable, canonical discriminator for Event. These values
// are part of the trace's canonical bytes; do not rename without also
// bumping RunKey's meaning for any persisted trace.
type EventKind string

const (
	EventStepCacheHit EventKind = "StepCacheHit"
	EventStepExecuted EventKind = "StepExecuted"
	EventStepFailed   EventKind = "StepFailed"
	EventStepCanceled EventKind = "StepCanceled"
)

// Event is a single logical transition/decision.
type Event struct {
	Kind EventKind

	// StepKey identifies the step or job this event refers to.
	StepKey string

	// Reason is a stable, logical reason code (e.g. "UpstreamFailed").
	Reason string

	// CausedBy records a related step (e.g. the failing dependency that
	// caused a cancellation).
	CausedBy string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.RunKey == "" {
		return errors.New("runKey is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.StepKey == "" {
			return fmt.Errorf("events[%d].stepKey is required", i)
		}
	}
	return nil
}

// Canonicalize sorts the trace's events into a total order independent of
// execution timing or goroutine scheduling: primarily by StepKey, then by
// a fixed kind precedence, then by Reason and CausedBy.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.StepKey != b.StepKey {
			return a.StepKey < b.StepKey
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.CausedBy < b.CausedBy
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventStepCacheHit:
		return 10
	case EventStepExecuted:
		return 20
	case EventStepFailed:
		return 30
	case EventStepCanceled:
		return 40
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical JSON encoding of a copy of t, leaving
// the receiver's event order untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{RunKey: t.RunKey, Events: append([]Event(nil), t.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical
// JSON encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order: runKey then events, each event as
// kind/stepKey/reason/causedBy with empty optional fields omitted.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.RunKey == "" {
		return nil, errors.New("runKey is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"runKey":`)
	rk, _ := json.Marshal(t.RunKey)
	buf.Write(rk)
	buf.WriteString(`,"events":[`)
	for i, e := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	if e.StepKey == "" {
		return nil, errors.New("stepKey is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)
	buf.WriteString(`,"stepKey":`)
	sb, _ := json.Marshal(e.StepKey)
	buf.Write(sb)
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.CausedBy != "" {
		buf.WriteString(`,"causedBy":`)
		cb, _ := json.Marshal(e.CausedBy)
		buf.Write(cb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
