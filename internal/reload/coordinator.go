package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/resolver"
)

var (
	// ErrStoreUnavailable wraps any failure to fetch records from the store,
	// including the fetch timeout.
	ErrStoreUnavailable = errors.New("reload: store unavailable")
	// ErrFailed is returned by Reload once the initial load has failed.
	ErrFailed = errors.New("reload: table failed to initialize")
)

// State is the lifecycle position of a table.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source fetches the full record set for one table.
type Source[P any] interface {
	Load(ctx context.Context) ([]policy.Record[P], error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[P any] func(ctx context.Context) ([]policy.Record[P], error)

func (f SourceFunc[P]) Load(ctx context.Context) ([]policy.Record[P], error) { return f(ctx) }

// Observer receives the outcome of every reload attempt.
type Observer interface {
	ObserveReload(table string, success bool, duration time.Duration)
	ObserveIndex(table string, records, skipped int)
}

type noopObserver struct{}

func (noopObserver) ObserveReload(string, bool, time.Duration) {}
func (noopObserver) ObserveIndex(string, int, int)             {}

// Options tunes a Coordinator. Zero Timeout disables the fetch deadline.
type Options struct {
	Timeout time.Duration
	Build   policy.BuildOptions
	Logger  *slog.Logger
	Metrics Observer
}

// SkippedPattern is the health-facing form of policy.Skip.
type SkippedPattern struct {
	Pattern  string `json:"pattern"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// Status summarises the most recent reload for health output.
type Status struct {
	Table       string           `json:"table"`
	State       string           `json:"state"`
	Records     int              `json:"records"`
	Skipped     []SkippedPattern `json:"skipped,omitempty"`
	ReloadID    string           `json:"reloadId,omitempty"`
	LastAttempt time.Time        `json:"lastAttempt,omitzero"`
	LastSuccess time.Time        `json:"lastSuccess,omitzero"`
	LastError   string           `json:"lastError,omitempty"`
}

// Coordinator rebuilds one table from its Source and publishes the result
// into the table's cache. Reloads are serialized; a caller arriving while a
// reload runs waits for it and then performs its own.
type Coordinator[P any] struct {
	name    string
	source  Source[P]
	cache   *resolver.Cache[P]
	opts    Options
	logger  *slog.Logger
	metrics Observer

	mu    sync.Mutex
	state atomic.Int32

	statusMu sync.RWMutex
	status   Status
}

// New wires a coordinator for the named table.
func New[P any](name string, source Source[P], cache *resolver.Cache[P], opts Options) *Coordinator[P] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopObserver{}
	}
	c := &Coordinator[P]{
		name:    name,
		source:  source,
		cache:   cache,
		opts:    opts,
		logger:  logger.With(slog.String("table", name)),
		metrics: metrics,
	}
	c.status = Status{Table: name, State: StateUninitialized.String()}
	return c
}

func (c *Coordinator[P]) Name() string { return c.name }

// State reports the current lifecycle state without blocking on a reload.
func (c *Coordinator[P]) State() State { return State(c.state.Load()) }

// Status returns a copy of the last reload summary.
func (c *Coordinator[P]) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	st := c.status
	st.State = c.State().String()
	st.Skipped = append([]SkippedPattern(nil), c.status.Skipped...)
	return st
}

// Reload fetches every record, builds a fresh index and publishes it. On
// failure the previously published index stays in service. If the very first
// load fails the table moves to StateFailed and every later call returns
// ErrFailed.
func (c *Coordinator[P]) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateFailed {
		return ErrFailed
	}
	first := c.State() == StateUninitialized
	if first {
		c.state.Store(int32(StateLoading))
	}

	id := uuid.NewString()
	logger := c.logger.With(slog.String("reload_id", id))
	start := time.Now()

	idx, skipped, err := c.rebuild(ctx)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveReload(c.name, false, elapsed)
		c.recordFailure(id, start, err)
		if first {
			c.state.Store(int32(StateFailed))
			logger.Error("initial policy load failed", slog.Any("error", err))
		} else {
			logger.Warn("policy reload failed, keeping previous index", slog.Any("error", err))
		}
		return err
	}

	for _, s := range skipped {
		logger.Warn("policy pattern skipped",
			slog.String("pattern", s.Pattern),
			slog.Int("position", s.Position),
			slog.String("reason", s.Reason()),
		)
	}

	c.cache.Publish(idx)
	c.cache.InvalidateAll()
	c.state.Store(int32(StateActive))

	c.metrics.ObserveReload(c.name, true, elapsed)
	c.metrics.ObserveIndex(c.name, idx.Len(), len(skipped))
	c.recordSuccess(id, start, idx.Len(), skipped)
	logger.Info("policy index published",
		slog.Int("records", idx.Len()),
		slog.Int("skipped", len(skipped)),
		slog.Duration("duration", elapsed),
	)
	return nil
}

func (c *Coordinator[P]) rebuild(ctx context.Context) (*policy.Index[P], []policy.Skip, error) {
	records, err := c.fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	idx, skipped, err := policy.Build(records, c.opts.Build)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s index: %w", c.name, err)
	}
	return idx, skipped, nil
}

type fetchResult[P any] struct {
	records []policy.Record[P]
	err     error
}

// fetch runs the source under the configured deadline. The source runs on its
// own goroutine so a store that ignores ctx still cannot stall the reload.
func (c *Coordinator[P]) fetch(ctx context.Context) ([]policy.Record[P], error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	done := make(chan fetchResult[P], 1)
	go func() {
		records, err := c.source.Load(ctx)
		done <- fetchResult[P]{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, c.name, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, c.name, res.err)
		}
		return res.records, nil
	}
}

func (c *Coordinator[P]) recordFailure(id string, at time.Time, err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.ReloadID = id
	c.status.LastAttempt = at
	c.status.LastError = err.Error()
}

func (c *Coordinator[P]) recordSuccess(id string, at time.Time, records int, skipped []policy.Skip) {
	out := make([]SkippedPattern, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, SkippedPattern{Pattern: s.Pattern, Position: s.Position, Reason: s.Reason()})
	}
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.ReloadID = id
	c.status.LastAttempt = at
	c.status.LastSuccess = at
	c.status.LastError = ""
	c.status.Records = records
	c.status.Skipped = out
}
