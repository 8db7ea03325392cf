package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/cache"
	"taskforge/internal/checkpoint"
	"taskforge/internal/engine"
	"taskforge/internal/scheduler"
	"taskforge/internal/storage"
	"taskforge/internal/testnode"
)

// collectingObserver is a checkpoint.Observer test double that records
// every GraphResult it is given, guarded by a mutex since engine variants
// other than the serial one observe from multiple goroutines.
type collectingObserver struct {
	mu   sync.Mutex
	seen []checkpoint.GraphResult
}

func (o *collectingObserver) Observe(result checkpoint.GraphResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, result.Clone())
}

func (o *collectingObserver) last() checkpoint.GraphResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.seen) == 0 {
		return checkpoint.GraphResult{}
	}
	return o.seen[len(o.seen)-1]
}

func newDiamondGraph(t *testing.T) *scheduler.Graph {
	t.Helper()
	g, err := scheduler.NewGraph([]scheduler.NodeSpec{
		{Name: "root", Node: testnode.Const{Name: "root", Payload: []byte("root"), Cacheable: true}, DependsOn: []string{"left", "right"}},
		{Name: "left", Node: testnode.Const{Name: "left", Payload: []byte("left"), Cacheable: true}, DependsOn: []string{"base"}},
		{Name: "right", Node: testnode.Const{Name: "right", Payload: []byte("right"), Cacheable: true}, DependsOn: []string{"base"}},
		{Name: "base", Node: testnode.Const{Name: "base", Payload: []byte("base"), Cacheable: true}},
	})
	require.NoError(t, err)
	return g
}

func TestLocalSerialEngineExecutesDiamond(t *testing.T) {
	graph := newDiamondGraph(t)
	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewLocalSerialEngine(sched, c)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())
	assert.Equal(t, []byte("root"), result.RootProducts["root"].Value)
	assert.Equal(t, int64(4), builder.CallCount())
}

func TestLocalSerialEngineSatisfiesCacheableStepFromCacheOnSecondRun(t *testing.T) {
	graph := newDiamondGraph(t)
	builder := &testnode.Builder{}
	sched1 := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e1 := engine.NewLocalSerialEngine(sched1, c)
	require.NoError(t, e1.Start(context.Background()))
	result := e1.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())
	firstCalls := builder.CallCount()
	require.Equal(t, int64(4), firstCalls)

	// A second engine run over a fresh scheduler instance, same cache and
	// builder, must not re-invoke the builder for any cacheable step: all
	// results are already cached.
	sched2 := scheduler.NewLocalScheduler(graph, builder)
	e2 := engine.NewLocalSerialEngine(sched2, c)
	require.NoError(t, e2.Start(context.Background()))
	result2 := e2.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result2.Failed())
	assert.Equal(t, firstCalls, builder.CallCount())
	assert.Equal(t, []byte("root"), result2.RootProducts["root"].Value)
}

func TestLocalSerialEngineFailsStepPropagatesAsFailure(t *testing.T) {
	graph, err := scheduler.NewGraph([]scheduler.NodeSpec{
		{Name: "bad", Node: testnode.Const{Name: "bad", Fail: true}},
	})
	require.NoError(t, err)

	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewLocalSerialEngine(sched, c)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"bad"}})
	require.True(t, result.Failed())
	assert.Error(t, result.Err)
}

func TestLocalSerialEngineEmptyRootsFinishesEmpty(t *testing.T) {
	graph, err := scheduler.NewGraph([]scheduler.NodeSpec{
		{Name: "a", Node: testnode.Const{Name: "a", Payload: []byte("a")}},
	})
	require.NoError(t, err)
	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewLocalSerialEngine(sched, c)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: nil})
	require.False(t, result.Failed())
	assert.Empty(t, result.RootProducts)
	assert.Equal(t, int64(0), builder.CallCount())
}

func TestLocalSerialEngineObserverJournalsStepsAndMarksRunDone(t *testing.T) {
	graph := newDiamondGraph(t)
	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e := engine.NewLocalSerialEngine(sched, c)
	obs := &collectingObserver{}
	e.SetObserver("run-1", obs)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())

	final := obs.last()
	assert.Equal(t, "run-1", final.RunID)
	assert.True(t, final.Done)
	assert.Empty(t, final.Err)
	assert.Len(t, final.Steps, 4)
	for _, progress := range final.Steps {
		assert.Equal(t, checkpoint.StepExecuted, progress.Status)
	}
}

func TestLocalSerialEngineObserverJournalsCacheHits(t *testing.T) {
	graph := newDiamondGraph(t)
	builder := &testnode.Builder{}
	sched1 := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	e1 := engine.NewLocalSerialEngine(sched1, c)
	require.NoError(t, e1.Start(context.Background()))
	require.False(t, e1.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}}).Failed())

	sched2 := scheduler.NewLocalScheduler(graph, builder)
	e2 := engine.NewLocalSerialEngine(sched2, c)
	obs := &collectingObserver{}
	e2.SetObserver("run-2", obs)
	require.NoError(t, e2.Start(context.Background()))
	defer e2.Close()

	result := e2.Execute(context.Background(), scheduler.Request{RootNames: []string{"root"}})
	require.False(t, result.Failed())

	final := obs.last()
	assert.Len(t, final.Steps, 4)
	for _, progress := range final.Steps {
		assert.Equal(t, checkpoint.StepCached, progress.Status)
	}
}

func TestLocalSerialEngineObserverDisabledWithoutSetObserver(t *testing.T) {
	graph, err := scheduler.NewGraph([]scheduler.NodeSpec{
		{Name: "a", Node: testnode.Const{Name: "a", Payload: []byte("a"), Cacheable: true}},
	})
	require.NoError(t, err)
	builder := &testnode.Builder{}
	sched := scheduler.NewLocalScheduler(graph, builder)

	store := storage.NewMemory(testnode.Codec{})
	c, err := cache.New(store, 0, nil)
	require.NoError(t, err)

	// No SetObserver call: execution must proceed exactly as before this
	// hook existed, with no panic from a nil observer.
	e := engine.NewLocalSerialEngine(sched, c)
	require.NoError(t, e.Start(context.Background()))
	defer e.Close()

	result := e.Execute(context.Background(), scheduler.Request{RootNames: []string{"a"}})
	require.False(t, result.Failed())
}
