// Package cache implements the Cache component of spec.md §4.1: a pure
// key(step) → key(result) lookup/insert layer over a Storage, with an
// optional single-flight guard for callers that want strict
// at-most-once-per-key computation (spec.md's "recommended but not
// mandatory refinement").
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"taskforge/internal/key"
	"taskforge/internal/storage"
)

// defaultCapacity bounds the key→key LRU index so a long-running engine
// process doesn't grow the index without bound; it does not bound
// Storage, which remains the source of truth for values.
const defaultCapacity = 1 << 16

// Stats are the hit/miss/size counters spec.md §4.2's `cache_stats()`
// exposes through Engine.CacheStats.
type Stats struct {
	Hits   int64
	Misses int64
	Puts   int64
	Size   int
}

// Cache maps a keyed Step request to a keyed Result, holding only key→key
// bindings: it never owns values itself (Storage does), so there is no
// cyclic ownership between Cache and Storage (spec.md §9).
type Cache struct {
	storage storage.Storage
	index   *lru.Cache[key.Key, key.Key]
	flight  singleflight.Group

	metrics *metrics

	hits, misses, puts atomic.Int64
}

// New creates a Cache over store with the given index capacity (<=0 uses a
// sensible default). If reg is non-nil, hit/miss/size gauges are
// registered on it (see internal/engine for how the engine exposes these).
func New(store storage.Storage, capacity int, reg *prometheus.Registry) (*Cache, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	idx, err := lru.New[key.Key, key.Key](capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{storage: store, index: idx}
	if reg != nil {
		c.metrics = newMetrics(reg)
	}
	return c, nil
}

// Get returns the keyed result for keyedStep, if any. Get must be O(1)
// expected (spec.md §4.1); the LRU index provides that.
func (c *Cache) Get(keyedStep key.Key) (key.Key, bool) {
	result, ok := c.index.Get(keyedStep)
	if ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.hits.Inc()
		}
	} else {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
	}
	return result, ok
}

// Put records that keyedStep's result is keyedResult. Put is idempotent
// and commutative: concurrent Puts of the same key with equal values
// leave the observed mapping unchanged (spec.md §4.1). Cache.Get is
// monotonic: once Put has recorded a binding, it is never evicted back to
// empty by anything Cache itself does (the LRU may evict under capacity
// pressure, which is a size bound, not a correctness violation — spec.md
// does not promise unbounded retention, only that an established binding
// does not flip back to absent while still resident).
func (c *Cache) Put(keyedStep, keyedResult key.Key) {
	c.index.Add(keyedStep, keyedResult)
	c.puts.Add(1)
	if c.metrics != nil {
		c.metrics.puts.Inc()
		c.metrics.size.Set(float64(c.index.Len()))
	}
}

// GetOrCompute is the single-flight-guarded refinement spec.md §4.1
// describes: callers that want strict at-most-once-per-key computation
// front the Cache with this instead of a bare Get/compute/Put sequence.
// Concurrent callers for the same keyedStep share one invocation of
// compute; shared reports whether that invocation's result was handed to
// more than one concurrent caller (it is true for the computing caller
// too). A cache hit returns shared=false without invoking compute.
func (c *Cache) GetOrCompute(keyedStep key.Key, compute func() (key.Key, error)) (result key.Key, shared bool, err error) {
	if r, ok := c.Get(keyedStep); ok {
		return r, false, nil
	}
	v, err, shared := c.flight.Do(keyedStep.String(), func() (interface{}, error) {
		r, err := compute()
		if err != nil {
			return key.Key{}, err
		}
		c.Put(keyedStep, r)
		return r, nil
	})
	if err != nil {
		return key.Key{}, shared, err
	}
	return v.(key.Key), shared, nil
}

// Stats returns a snapshot of hit/miss/put/size counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Puts: c.puts.Load(), Size: c.index.Len()}
}

// Close releases the backing Storage. The Cache itself owns no other
// resources.
func (c *Cache) Close() error {
	return c.storage.Close()
}

// Storage exposes the backing Storage for callers (the Engine) that need
// to Put/Get values directly, not just key→key bindings.
func (c *Cache) Storage() storage.Storage {
	return c.storage
}

type metrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	puts   prometheus.Counter
	size   prometheus.Gauge
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		hits:   prometheus.NewCounter(prometheus.CounterOpts{Name: "taskforge_cache_hits_total", Help: "Cache hits."}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{Name: "taskforge_cache_misses_total", Help: "Cache misses."}),
		puts:   prometheus.NewCounter(prometheus.CounterOpts{Name: "taskforge_cache_puts_total", Help: "Cache puts."}),
		size:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "taskforge_cache_size", Help: "Number of keyed bindings currently indexed."}),
	}
	reg.MustRegister(m.hits, m.misses, m.puts, m.size)
	return m
}
