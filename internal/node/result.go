package node

import "fmt"

// Result is the output of executing a Node.
//
// Value is an opaque, already-serialized payload. Keeping Result's payload
// pre-serialized (rather than an `any`) means Storage never needs to know
// how to encode a Node's domain type, and it gives every Result a trivial,
// always-succeeding MarshalBinary — serialization failures are surfaced at
// the point a host tries to produce a Value (see Serializable), matching
// spec.md §9's requirement that Step/Node/Result implement an explicit
// Serialize capability rather than relying on an ambient pickler.
type Result struct {
	Value []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Result) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(r.Value))
	copy(out, r.Value)
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Result) UnmarshalBinary(data []byte) error {
	r.Value = append([]byte(nil), data...)
	return nil
}

// Serializable is the explicit capability spec.md §9 asks Step/Node/Result
// to implement instead of depending on an ambient pickler plus a debug-mode
// try/except. A host Node that cannot guarantee its Result serializes
// (e.g. because it would have to wrap a non-serializable closure) should
// not implement this — the engine uses it only where debug mode requires a
// round-trip check.
type Serializable interface {
	MarshalBinary() ([]byte, error)
}

// CheckSerializable exercises MarshalBinary and returns a wrapped error
// naming v's type if it fails. It is the Go encoding of the source
// engine's debug-mode `_try_pickle`: multiprocess workers call it only
// when the engine was started with debug serialization enabled.
func CheckSerializable(v Serializable) error {
	if _, err := v.MarshalBinary(); err != nil {
		return fmt.Errorf("serializing %T: %w", v, err)
	}
	return nil
}
