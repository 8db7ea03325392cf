package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/step"
	"taskforge/internal/storage"
	"taskforge/internal/testnode"
)

func newMemory() *storage.Memory {
	return storage.NewMemory(testnode.Codec{})
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newMemory()
	k, err := s.Put([]byte("hello"))
	require.NoError(t, err)

	got, ok, err := s.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
}

func TestGetUnknownKeyIsMiss(t *testing.T) {
	s := newMemory()
	_, ok, err := s.Get(key.Of([]byte("never-put")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newMemory()
	k1, err := s.Put([]byte("same"))
	require.NoError(t, err)
	k2, err := s.Put([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestKeyForRequestIsStableAcrossDependencyOrder(t *testing.T) {
	s := newMemory()
	n := testnode.Const{Name: "n", Payload: []byte("v"), Cacheable: true}

	depA := node.Result{Value: []byte("a")}
	depB := node.Result{Value: []byte("b")}

	s1 := step.New(n, []node.Result{depA, depB})
	s2 := step.New(n, []node.Result{depB, depA})

	k1, err := s.KeyForRequest(s1)
	require.NoError(t, err)
	k2, err := s.KeyForRequest(s2)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "request key must not depend on dependency insertion order")
}

func TestKeyForRequestDiffersOnDifferentNode(t *testing.T) {
	s := newMemory()
	n1 := testnode.Const{Name: "n1", Payload: []byte("v"), Cacheable: true}
	n2 := testnode.Const{Name: "n2", Payload: []byte("v"), Cacheable: true}

	k1, err := s.KeyForRequest(step.New(n1, nil))
	require.NoError(t, err)
	k2, err := s.KeyForRequest(step.New(n2, nil))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestResolveRequestRoundTrip(t *testing.T) {
	s := newMemory()
	n := testnode.Const{Name: "n", Payload: []byte("v"), Cacheable: true}
	dep := node.Result{Value: []byte("dep")}
	orig := step.New(n, []node.Result{dep})

	k, err := s.KeyForRequest(orig)
	require.NoError(t, err)

	resolved, err := s.ResolveRequest(k)
	require.NoError(t, err)

	assert.Equal(t, orig.Node, resolved.Node)
	require.Len(t, resolved.Dependencies, 1)
	assert.Equal(t, dep.Value, resolved.Dependencies[0].Value)
}

func TestResolveResultRoundTrip(t *testing.T) {
	s := newMemory()
	k, err := s.Put([]byte("payload"))
	require.NoError(t, err)

	res, err := s.ResolveResult(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), res.Value)
}

func TestCloneIsIndependentSnapshot(t *testing.T) {
	s := newMemory()
	k, err := s.Put([]byte("original"))
	require.NoError(t, err)

	cloned, err := s.Clone()
	require.NoError(t, err)

	// Mutating the original after cloning must not affect the clone's
	// already-copied content.
	_, err = s.Put([]byte("added-after-clone"))
	require.NoError(t, err)

	got, ok, err := cloned.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), got)
}
