// Package storage implements the content-addressed Key→Value store that
// backs both the Cache (internal/cache) and the engine's cross-process
// transport (internal/pool): requests and results are keyed here so that
// only key.Key values, never raw Go values, ever need to cross a process
// boundary.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/step"
)

// SerializationError is returned when a Node or request record cannot be
// encoded for storage, or decoded back from it — e.g. a Node its NodeCodec
// cannot encode. It is reported synchronously by KeyForRequest and
// ResolveRequest. A failure inside a multiprocess worker (including a
// failed node.CheckSerializable in debug mode) reaches the engine as a
// plain error carrying the worker's message, not as a SerializationError.
type SerializationError struct {
	Subject string
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error encoding %s: %v", e.Subject, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// NodeCodec knows how to turn host-specific Node implementations into
// bytes and back, keyed by Node.Kind(). Storage delegates all
// Node-specific encoding to a NodeCodec so it never needs to know about
// concrete Node types.
type NodeCodec interface {
	Encode(n node.Node) ([]byte, error)
	Decode(kind string, data []byte) (node.Node, error)
}

// Storage is a content-addressed Key→Value mapping with the request/result
// keying operations the engine needs (spec.md §4.1).
type Storage interface {
	// Put stores data and returns its content key.
	Put(data []byte) (key.Key, error)

	// Get retrieves the bytes stored at k. ok is false if k is unknown.
	Get(k key.Key) (data []byte, ok bool, err error)

	// KeyForRequest computes a stable key for a Step, recursively keying
	// its dependencies so the resulting request key is canonical
	// irrespective of any non-deterministic ordering in the raw
	// dependency container (spec.md §4.1): dependencies are sorted by
	// their own keys before the request key is derived.
	KeyForRequest(s step.Step) (key.Key, error)

	// ResolveRequest is the inverse of KeyForRequest: it re-hydrates the
	// Node and one layer of dependency Results for a previously-keyed
	// request.
	ResolveRequest(k key.Key) (step.Step, error)

	// ResolveResult re-hydrates a keyed Result.
	ResolveResult(k key.Key) (node.Result, error)

	// Clone returns a Storage seeded with the same content, suitable for
	// handing to a separate-process worker (spec.md §4.1, §9).
	Clone() (Storage, error)

	// Close releases any resources the Storage holds.
	Close() error
}

// requestRecord is the canonical, content-hashed representation of a keyed
// Step used by KeyForRequest/ResolveRequest. Its gob encoding IS what gets
// hashed into the request key, so two requests with equal Kind and equal
// sorted dependency keys always collide onto the same request key
// regardless of which Storage instance computed them.
type requestRecord struct {
	Kind    string
	NodeKey key.Key
	DepKeys []key.Key
}

func encodeRequestRecord(r requestRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, &SerializationError{Subject: "request record", Err: err}
	}
	return buf.Bytes(), nil
}

func decodeRequestRecord(data []byte) (requestRecord, error) {
	var r requestRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return requestRecord{}, &SerializationError{Subject: "request record", Err: err}
	}
	return r, nil
}

// keyForRequest is the shared implementation both backends use: it only
// needs a Put/Get pair, so it is written once here instead of duplicated
// per backend.
func keyForRequest(s Storage, codec NodeCodec, st step.Step) (key.Key, error) {
	nodeData, err := codec.Encode(st.Node)
	if err != nil {
		return key.Zero, &SerializationError{Subject: fmt.Sprintf("node %q", st.Node.Kind()), Err: err}
	}
	nodeKey, err := s.Put(nodeData)
	if err != nil {
		return key.Zero, err
	}

	depKeys := make([]key.Key, 0, len(st.Dependencies))
	for _, dep := range st.Dependencies {
		depKey, err := s.Put(dep.Value)
		if err != nil {
			return key.Zero, err
		}
		depKeys = append(depKeys, depKey)
	}
	depKeys = key.Sort(depKeys)

	record := requestRecord{Kind: st.Node.Kind(), NodeKey: nodeKey, DepKeys: depKeys}
	recordBytes, err := encodeRequestRecord(record)
	if err != nil {
		return key.Zero, err
	}
	return s.Put(recordBytes)
}

func resolveRequest(s Storage, codec NodeCodec, k key.Key) (step.Step, error) {
	recordBytes, ok, err := s.Get(k)
	if err != nil {
		return step.Step{}, err
	}
	if !ok {
		return step.Step{}, fmt.Errorf("resolving request %s: unknown key", k)
	}
	record, err := decodeRequestRecord(recordBytes)
	if err != nil {
		return step.Step{}, err
	}

	nodeData, ok, err := s.Get(record.NodeKey)
	if err != nil {
		return step.Step{}, err
	}
	if !ok {
		return step.Step{}, fmt.Errorf("resolving request %s: unknown node key", k)
	}
	n, err := codec.Decode(record.Kind, nodeData)
	if err != nil {
		return step.Step{}, &SerializationError{Subject: fmt.Sprintf("node kind %q", record.Kind), Err: err}
	}

	deps := make([]node.Result, 0, len(record.DepKeys))
	for _, dk := range record.DepKeys {
		data, ok, err := s.Get(dk)
		if err != nil {
			return step.Step{}, err
		}
		if !ok {
			return step.Step{}, fmt.Errorf("resolving request %s: unknown dependency key", k)
		}
		deps = append(deps, node.Result{Value: data})
	}

	return step.New(n, deps), nil
}

func resolveResult(s Storage, k key.Key) (node.Result, error) {
	data, ok, err := s.Get(k)
	if err != nil {
		return node.Result{}, err
	}
	if !ok {
		return node.Result{}, fmt.Errorf("resolving result %s: unknown key", k)
	}
	return node.Result{Value: data}, nil
}
