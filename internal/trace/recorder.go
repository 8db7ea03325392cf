package trace

import "sync"

// Sink is the minimal interface the engine and execgraph depend on to
// record events. Implementations must be inert: Record must not panic and
// must not return an error, since recording must never affect execution.
type Sink interface {
	Record(event Event)
}

// NopSink discards every event; it is the default when no Sink is wired.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord records an event and guarantees inertness even if s panics
// internally, so a misbehaving Sink cannot take down an execution.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() { _ = recover() }()
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Trace builds an ExecutionTrace from the currently recorded events,
// canonicalized and independent of the recorder's own state.
func (r *Recorder) Trace(runKey string) ExecutionTrace {
	tr := ExecutionTrace{RunKey: runKey, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
