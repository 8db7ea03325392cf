// Package key defines the content-addressed identity used throughout the
// engine: Storage, Cache, Step and Job keys are all instances of Key.
package key

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
)

// Key is a stable, opaque, content-derived identifier.
//
// Two Keys compare equal iff the values they denote are equal (assuming no
// hash collisions). Keys are totally ordered so dependency sets that arrive
// in arbitrary order can be canonicalized before hashing.
type Key [sha256.Size]byte

// Zero is the empty Key, never a valid content key.
var Zero Key

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Less reports whether k sorts before other. Used to give dependency
// multisets a canonical order prior to hashing a request.
func (k Key) Less(other Key) bool {
	for i := range k {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// Of hashes an arbitrary byte payload into a Key.
func Of(data []byte) Key {
	return Key(sha256.Sum256(data))
}

// Sort returns a new slice with ks sorted ascending by Key.Less.
func Sort(ks []Key) []Key {
	out := make([]Key, len(ks))
	copy(out, ks)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Writer accumulates length-prefixed fields into a running SHA-256 hash so
// that the final digest is unambiguous regardless of field contents
// (no delimiter-injection ambiguity between adjacent fields).
//
// This is the same length-prefixing discipline the engine's predecessor
// used for graph and task-definition hashing: every field is framed with
// its own 8-byte big-endian length before its bytes are written.
type Writer struct {
	h hash.Hash
}

// NewWriter starts a fresh canonical hash accumulation.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// WriteField writes one length-prefixed field.
func (w *Writer) WriteField(data []byte) *Writer {
	n := uint64(len(data))
	lengthBytes := []byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}
	w.h.Write(lengthBytes)
	w.h.Write(data)
	return w
}

// WriteFields writes each of the given byte slices as a separate field, in
// order. Callers that need an order-independent hash must sort before
// calling this (see Sort).
func (w *Writer) WriteFields(fields ...[]byte) *Writer {
	for _, f := range fields {
		w.WriteField(f)
	}
	return w
}

// Sum finalizes the hash into a Key.
func (w *Writer) Sum() Key {
	var out Key
	copy(out[:], w.h.Sum(nil))
	return out
}
