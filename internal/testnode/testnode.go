// Package testnode provides a deterministic Node, Builder and NodeCodec
// used across internal/storage, internal/cache, internal/scheduler and
// internal/engine tests, so the same fixture exercises the whole stack the
// way the teacher's ImmediatelyExecutingPool/PrintLogger test doubles
// exercise internal/execgraph.
package testnode

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync/atomic"

	"taskforge/internal/node"
)

// Kind is the fixed Kind() value every Const node reports.
const Kind = "testnode.Const"

// Const is a Node whose Result is simply its own Payload, optionally
// failing instead.
type Const struct {
	Name      string
	Payload   []byte
	Fail      bool
	Cacheable bool
}

// IsCacheable implements node.Node.
func (c Const) IsCacheable() bool { return c.Cacheable }

// Kind implements node.Node.
func (c Const) Kind() string { return Kind }

// Builder executes Const nodes and counts how many times it actually ran
// (as opposed to being satisfied from cache), so tests can assert on
// at-most-once execution.
type Builder struct {
	Calls int64
}

// Name implements node.Builder.
func (b *Builder) Name() string { return "testnode.Builder" }

// Build implements node.Builder.
func (b *Builder) Build(_ context.Context, n node.Node) (node.Result, error) {
	c, ok := n.(Const)
	if !ok {
		return node.Result{}, fmt.Errorf("testnode.Builder: unexpected node type %T", n)
	}
	atomic.AddInt64(&b.Calls, 1)
	if c.Fail {
		return node.Result{}, fmt.Errorf("testnode: %s failed", c.Name)
	}
	return node.Result{Value: c.Payload}, nil
}

// CallCount returns the number of times Build actually ran the node logic.
func (b *Builder) CallCount() int64 { return atomic.LoadInt64(&b.Calls) }

// Codec encodes/decodes Const nodes via gob, for internal/storage.
type Codec struct{}

// Encode implements storage.NodeCodec.
func (Codec) Encode(n node.Node) ([]byte, error) {
	c, ok := n.(Const)
	if !ok {
		return nil, fmt.Errorf("testnode.Codec: unexpected node type %T", n)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements storage.NodeCodec.
func (Codec) Decode(kind string, data []byte) (node.Node, error) {
	if kind != Kind {
		return nil, fmt.Errorf("testnode.Codec: unknown kind %q", kind)
	}
	var c Const
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, err
	}
	return c, nil
}
