package resolver

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/uriguard/internal/policy"
)

// generation is one epoch of cached results. The matcher is fixed for the
// lifetime of a snapshot; shards and flight are shared by snapshots of the
// same generation and dropped wholesale by InvalidateAll.
type generation[P any] struct {
	shards []*shard[P]
	mask   uint64
	flight *singleflight.Group
}

type snapshot[P any] struct {
	matcher policy.Matcher[P]
	gen     *generation[P]
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Cache memoizes URI resolutions against the currently published matcher.
// Lookups are lock-free on the snapshot and take only one shard lock.
type Cache[P any] struct {
	opts     Options
	perShard int

	// mu serializes writers of current; readers only Load.
	mu      sync.Mutex
	current atomic.Pointer[snapshot[P]]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New returns an empty cache. Until Publish is called every URI resolves to
// no match.
func New[P any](opts Options) *Cache[P] {
	opts = opts.withDefaults()
	c := &Cache[P]{
		opts:     opts,
		perShard: (opts.MaxEntries + opts.Shards - 1) / opts.Shards,
	}
	c.current.Store(&snapshot[P]{gen: c.newGeneration()})
	return c
}

func (c *Cache[P]) newGeneration() *generation[P] {
	g := &generation[P]{
		shards: make([]*shard[P], c.opts.Shards),
		mask:   uint64(c.opts.Shards - 1),
		flight: &singleflight.Group{},
	}
	for i := range g.shards {
		g.shards[i] = newShard[P](c.perShard)
	}
	return g
}

func (g *generation[P]) shardFor(key string) *shard[P] {
	return g.shards[xxhash.Sum64String(key)&g.mask]
}

// Name returns the table label the cache was created with.
func (c *Cache[P]) Name() string { return c.opts.Name }

// Resolve returns the record selected for uri by the published matcher,
// memoizing both matches and misses. Concurrent first lookups of the same
// uri in the same generation share one computation.
func (c *Cache[P]) Resolve(uri string) (policy.Record[P], bool) {
	snap := c.current.Load()
	s := snap.gen.shardFor(uri)

	if r, ok := s.get(uri); ok {
		c.hits.Add(1)
		c.opts.Observer.Hit()
		return r.record, r.ok
	}
	c.misses.Add(1)
	c.opts.Observer.Miss()

	v, _, _ := snap.gen.flight.Do(uri, func() (any, error) {
		if r, ok := s.peek(uri); ok {
			return r, nil
		}
		var r result[P]
		if snap.matcher != nil {
			r.record, r.ok = snap.matcher.Match(uri)
		}
		if n := s.add(uri, r); n > 0 {
			c.evictions.Add(uint64(n))
			for range n {
				c.opts.Observer.Evict()
			}
		}
		return r, nil
	})
	r := v.(result[P])
	return r.record, r.ok
}

// Publish installs m as the matcher for subsequent lookups. Entries already
// cached are kept until InvalidateAll; resolves that loaded the previous
// snapshot finish against it.
func (c *Cache[P]) Publish(m policy.Matcher[P]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.current.Load()
	c.current.Store(&snapshot[P]{matcher: m, gen: old.gen})
}

// InvalidateAll discards every cached result by starting a new generation.
// Results still being computed against the old generation are written to the
// discarded store and never observed.
func (c *Cache[P]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.current.Load()
	c.current.Store(&snapshot[P]{matcher: old.matcher, gen: c.newGeneration()})
	c.opts.Observer.Invalidate()
}

// Matcher returns the currently published matcher, or nil before the first
// Publish.
func (c *Cache[P]) Matcher() policy.Matcher[P] {
	return c.current.Load().matcher
}

// Len reports the number of cached URIs in the current generation.
func (c *Cache[P]) Len() int {
	g := c.current.Load().gen
	n := 0
	for _, s := range g.shards {
		n += s.len()
	}
	return n
}

func (c *Cache[P]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}
