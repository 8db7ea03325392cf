// Package workerwire defines the gob-encoded envelopes that cross the
// OS-process boundary for MultiprocessParallelEngine (spec.md §5, §9):
// internal/pool.StatefulPool writes them to, and reads them from, each
// worker subprocess's stdin/stdout pipe, and a process-isolated worker
// (cmd/taskforge's hidden __worker subcommand) answers them on the other
// end. Only keys, never raw Go values, ever travel in an
// envelope, per spec.md §5's "all values crossing process boundaries are
// keys, never raw language values".
package workerwire

import (
	"bufio"
	"encoding/gob"
	"io"

	"github.com/google/uuid"

	"taskforge/internal/key"
)

// InitEnvelope is sent once, at worker startup, before any Request is
// read. It tells the worker which node.Builder to reconstruct (by name,
// never by shipping a closure) and how to reach the shared Storage
// backend.
type InitEnvelope struct {
	BuilderName  string
	StorageInMem bool
	PostgresDSN  string
	Debug        bool
}

// RequestEnvelope carries one keyed step for the worker to execute.
// RequestID correlates it with the eventual ResponseEnvelope; it has no
// meaning beyond this single worker session.
type RequestEnvelope struct {
	RequestID  string
	RequestKey key.Key
}

// NewRequest builds a RequestEnvelope with a fresh correlation id.
func NewRequest(requestKey key.Key) RequestEnvelope {
	return RequestEnvelope{RequestID: uuid.NewString(), RequestKey: requestKey}
}

// ResponseEnvelope is the worker's answer to a RequestEnvelope. Err is a
// message, not a Go error value — exceptions are values that cross the
// wire as data, never as a panic or as a language-specific exception
// object (spec.md §9).
type ResponseEnvelope struct {
	RequestID string
	ResultKey key.Key
	Err       string
}

// Encoder writes envelopes to an underlying stream, one gob value per
// call, flushing after each so the peer observes it promptly.
type Encoder struct {
	w   *bufio.Writer
	enc *gob.Encoder
}

// NewEncoder wraps w for envelope writes.
func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	return &Encoder{w: bw, enc: gob.NewEncoder(bw)}
}

func (e *Encoder) EncodeInit(env InitEnvelope) error {
	return e.encode(env)
}

func (e *Encoder) EncodeRequest(env RequestEnvelope) error {
	return e.encode(env)
}

func (e *Encoder) EncodeResponse(env ResponseEnvelope) error {
	return e.encode(env)
}

func (e *Encoder) encode(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads envelopes from an underlying stream.
type Decoder struct {
	dec *gob.Decoder
}

// NewDecoder wraps r for envelope reads.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: gob.NewDecoder(r)}
}

func (d *Decoder) DecodeInit() (InitEnvelope, error) {
	var env InitEnvelope
	err := d.dec.Decode(&env)
	return env, err
}

func (d *Decoder) DecodeRequest() (RequestEnvelope, error) {
	var env RequestEnvelope
	err := d.dec.Decode(&env)
	return env, err
}

func (d *Decoder) DecodeResponse() (ResponseEnvelope, error) {
	var env ResponseEnvelope
	err := d.dec.Decode(&env)
	return env, err
}
