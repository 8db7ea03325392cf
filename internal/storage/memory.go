package storage

import (
	"sync"

	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/step"
)

// Memory is the default, in-memory Storage backend. It is the backend the
// oracle (LocalSerialEngine) and the conformance tests run against
// (spec.md §6: `storage.in_memory: true` by default).
type Memory struct {
	codec NodeCodec

	mu   sync.RWMutex
	blob map[key.Key][]byte
}

// NewMemory creates an empty in-memory Storage using codec to encode/decode
// host Node implementations.
func NewMemory(codec NodeCodec) *Memory {
	return &Memory{codec: codec, blob: make(map[key.Key][]byte)}
}

// Put stores data and returns its content key. Put is idempotent: storing
// the same bytes twice returns the same key and leaves the map unchanged
// beyond the first write (spec.md §4.1's "put is idempotent and
// commutative").
func (m *Memory) Put(data []byte) (key.Key, error) {
	k := key.Of(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blob[k]; !exists {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blob[k] = cp
	}
	return k, nil
}

// Get retrieves the bytes stored at k.
func (m *Memory) Get(k key.Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blob[k]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// KeyForRequest implements Storage.
func (m *Memory) KeyForRequest(s step.Step) (key.Key, error) {
	return keyForRequest(m, m.codec, s)
}

// ResolveRequest implements Storage.
func (m *Memory) ResolveRequest(k key.Key) (step.Step, error) {
	return resolveRequest(m, m.codec, k)
}

// ResolveResult implements Storage.
func (m *Memory) ResolveResult(k key.Key) (node.Result, error) {
	return resolveResult(m, k)
}

// Clone deep-copies the current content into a fresh Memory instance, the
// in-memory analogue of seeding a multiprocess worker with the same
// content (spec.md §4.1, §9 WorkerInit).
func (m *Memory) Clone() (Storage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := NewMemory(m.codec)
	for k, v := range m.blob {
		data := make([]byte, len(v))
		copy(data, v)
		cp.blob[k] = data
	}
	return cp, nil
}

// Close is a no-op for Memory; nothing to release.
func (m *Memory) Close() error { return nil }
