package runtime

import (
	"context"

	"github.com/l0p7/uriguard/internal/metrics"
	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/reload"
	"github.com/l0p7/uriguard/internal/resolver"
)

// TableOptions configures one policy table.
type TableOptions struct {
	MaxEntries int
	Shards     int
	Reload     reload.Options
	Metrics    *metrics.Recorder
}

// Table pairs a resolution cache with the coordinator that refreshes it.
type Table[P any] struct {
	name        string
	cache       *resolver.Cache[P]
	coordinator *reload.Coordinator[P]
}

// NewTable wires cache, coordinator and metrics for a table backed by src.
func NewTable[P any](name string, src reload.Source[P], opts TableOptions) *Table[P] {
	cache := resolver.New[P](resolver.Options{
		Name:       name,
		MaxEntries: opts.MaxEntries,
		Shards:     opts.Shards,
		Observer:   opts.Metrics.CacheObserver(name),
	})
	reloadOpts := opts.Reload
	if reloadOpts.Metrics == nil && opts.Metrics != nil {
		reloadOpts.Metrics = opts.Metrics
	}
	return &Table[P]{
		name:        name,
		cache:       cache,
		coordinator: reload.New(name, src, cache, reloadOpts),
	}
}

func (t *Table[P]) Name() string { return t.name }

// Resolve returns the policy selected for uri, if any.
func (t *Table[P]) Resolve(uri string) (policy.Record[P], bool) {
	return t.cache.Resolve(uri)
}

func (t *Table[P]) Reload(ctx context.Context) error { return t.coordinator.Reload(ctx) }

func (t *Table[P]) State() reload.State { return t.coordinator.State() }

func (t *Table[P]) Status() reload.Status { return t.coordinator.Status() }

func (t *Table[P]) Stats() resolver.Stats { return t.cache.Stats() }

// Resolution is the explain form of one table lookup.
type Resolution struct {
	Table   string `json:"table"`
	Matched bool   `json:"matched"`
	Pattern string `json:"pattern,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// explain matches against the published index directly so admin lookups
// leave cache contents and resolve counters untouched.
func (t *Table[P]) explain(uri string) Resolution {
	var (
		rec policy.Record[P]
		ok  bool
	)
	if m := t.cache.Matcher(); m != nil {
		rec, ok = m.Match(uri)
	}
	res := Resolution{Table: t.name, Matched: ok}
	if ok {
		res.Pattern = rec.Pattern
		res.Payload = rec.Payload
	}
	return res
}

// table is the type-erased view the admin handlers iterate over.
type table interface {
	Name() string
	Reload(context.Context) error
	State() reload.State
	Status() reload.Status
	Stats() resolver.Stats
	explain(uri string) Resolution
}

var (
	_ table = (*Table[policy.CircuitBreaker])(nil)
	_ table = (*Table[policy.BlacklistRule])(nil)
)
