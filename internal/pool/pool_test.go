package pool_test

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/key"
	"taskforge/internal/pool"
	"taskforge/internal/workerwire"
)

func TestThreadPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := pool.NewThreadPool(size)
	defer p.Close()

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Go(func() {
			defer wg.Done()
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxObserved)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, cur) {
					break
				}
			}
			atomic.AddInt32(&inFlight, -1)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxObserved), size)
}

// helperFailRequestKey is the sentinel request key TestHelperProcess
// answers with an error, so tests can exercise the worker-error path
// without needing a builder that actually fails.
var helperFailRequestKey = key.Of([]byte("pool-test-helper:fail"))

// TestHelperProcess is not a real test. It is re-exec'd as a worker
// subprocess by the StatefulPool tests below, following the standard
// library's own os/exec_test.go pattern (TestHelperProcess gated on
// GO_WANT_HELPER_PROCESS) for testing subprocess-spawning code without a
// real taskforge binary on hand. It speaks the workerwire protocol over
// its stdin/stdout exactly as cmd/taskforge's __worker subcommand does,
// echoing each request's key back as the result key, except
// helperFailRequestKey, which it reports back as a worker-side error.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	dec := workerwire.NewDecoder(os.Stdin)
	enc := workerwire.NewEncoder(os.Stdout)

	if _, err := dec.DecodeInit(); err != nil {
		os.Exit(1)
	}
	for {
		req, err := dec.DecodeRequest()
		if err != nil {
			os.Exit(0)
		}
		resp := workerwire.ResponseEnvelope{RequestID: req.RequestID}
		if req.RequestKey == helperFailRequestKey {
			resp.Err = "helper: simulated failure"
		} else {
			resp.ResultKey = req.RequestKey
		}
		if err := enc.EncodeResponse(resp); err != nil {
			os.Exit(1)
		}
	}
}

// helperProcessSpec builds a ProcessSpec that re-execs this test binary
// straight into TestHelperProcess, standing in for "taskforge __worker".
func helperProcessSpec() pool.ProcessSpec {
	return pool.ProcessSpec{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1"},
	}
}

func TestStatefulPoolRoundTripsThroughARealWorkerSubprocess(t *testing.T) {
	p, err := pool.NewStatefulPool(2, helperProcessSpec())
	require.NoError(t, err)
	defer p.Close()

	k := key.Of([]byte("task"))
	p.Submit(pool.Task{ID: 1, Payload: k[:]})
	r := p.AwaitOneResult()
	require.NoError(t, r.Err)
	assert.Equal(t, k[:], r.Payload)
}

func TestStatefulPoolSpawnsOneSubprocessPerWorker(t *testing.T) {
	const size = 3
	p, err := pool.NewStatefulPool(size, helperProcessSpec())
	require.NoError(t, err)
	defer p.Close()

	var ks [size]key.Key
	for i := range ks {
		ks[i] = key.Of([]byte{byte(i)})
		p.Submit(pool.Task{ID: uint64(i), Payload: ks[i][:]})
	}
	seen := make(map[uint64]bool)
	for i := 0; i < size; i++ {
		r := p.AwaitOneResult()
		require.NoError(t, r.Err)
		seen[r.ID] = true
	}
	assert.Len(t, seen, size)
}

func TestStatefulPoolPropagatesWorkerErrorAsValue(t *testing.T) {
	p, err := pool.NewStatefulPool(1, helperProcessSpec())
	require.NoError(t, err)
	defer p.Close()

	p.Submit(pool.Task{ID: 1, Payload: helperFailRequestKey[:]})
	r := p.AwaitOneResult()
	assert.Error(t, r.Err)
}

func TestNewStatefulPoolRequiresACommand(t *testing.T) {
	_, err := pool.NewStatefulPool(1, pool.ProcessSpec{})
	assert.Error(t, err)
}
