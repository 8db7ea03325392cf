package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/cache"
	"taskforge/internal/engine"
	"taskforge/internal/node"
	"taskforge/internal/scheduler"
	"taskforge/internal/storage"
	"taskforge/internal/testnode"
)

func TestThreadHybridEngineMatchesSerialOracle(t *testing.T) {
	graph := newDiamondGraph(t)

	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)
	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewThreadHybridEngine(sched, c,
		engine.WithPoolSize(2),
		engine.WithAsyncClassifier(node.NewKindSet(testnode.Kind)),
	)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())
	assert.Equal(t, []byte("root"), result.RootProducts["root"].Value)
}

func TestThreadHybridEngineFailurePropagates(t *testing.T) {
	graph, err := scheduler.NewGraph([]scheduler.NodeSpec{
		{Name: "bad", Node: testnode.Const{Name: "bad", Fail: true}},
	})
	require.NoError(t, err)

	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)
	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewThreadHybridEngine(sched, c,
		engine.WithAsyncClassifier(node.AlwaysAsync{}),
	)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"bad"}})
	require.True(t, result.Failed())
}

func TestThreadHybridEngineAllSyncDefaultsToInlineExecution(t *testing.T) {
	graph := newDiamondGraph(t)
	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)
	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	// No classifier override: default node.NeverAsync routes every step
	// through the inline path, never touching the thread pool.
	e := engine.NewThreadHybridEngine(sched, c)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())
	assert.Equal(t, int64(4), builder.CallCount())
}
