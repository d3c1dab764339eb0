package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l0p7/uriguard/internal/resolver"
)

// ResolveResult labels a cache lookup.
type ResolveResult string

const (
	// ResolveHit indicates the lookup reused a cached resolution.
	ResolveHit ResolveResult = "hit"
	// ResolveMiss indicates the lookup scanned the index.
	ResolveMiss ResolveResult = "miss"
)

// ReloadOutcome labels a reload attempt.
type ReloadOutcome string

const (
	ReloadSuccess ReloadOutcome = "success"
	ReloadFailure ReloadOutcome = "failure"
)

// Recorder publishes Prometheus metrics for resolution and reload activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	resolves      *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	invalidations *prometheus.CounterVec

	reloads        *prometheus.CounterVec
	reloadDuration *prometheus.HistogramVec
	indexRecords   *prometheus.GaugeVec
	indexSkipped   *prometheus.GaugeVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	resolves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uriguard",
		Name:      "resolve_total",
		Help:      "URI resolutions served, by table and cache result.",
	}, []string{"table", "result"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uriguard",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Cached resolutions evicted to stay within capacity.",
	}, []string{"table"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uriguard",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Full cache invalidations, one per published index.",
	}, []string{"table"})

	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uriguard",
		Subsystem: "reload",
		Name:      "total",
		Help:      "Policy table reload attempts by outcome.",
	}, []string{"table", "outcome"})

	reloadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uriguard",
		Subsystem: "reload",
		Name:      "duration_seconds",
		Help:      "Latency distribution for policy table reloads.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"table", "outcome"})

	indexRecords := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "uriguard",
		Subsystem: "index",
		Name:      "records",
		Help:      "Records in the published index.",
	}, []string{"table"})

	indexSkipped := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "uriguard",
		Subsystem: "index",
		Name:      "skipped",
		Help:      "Records left out of the published index because their pattern was rejected.",
	}, []string{"table"})

	reg.MustRegister(resolves, evictions, invalidations, reloads, reloadDuration, indexRecords, indexSkipped)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:       reg,
		handler:        handler,
		resolves:       resolves,
		evictions:      evictions,
		invalidations:  invalidations,
		reloads:        reloads,
		reloadDuration: reloadDuration,
		indexRecords:   indexRecords,
		indexSkipped:   indexSkipped,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveReload records the outcome and latency of one reload attempt.
func (r *Recorder) ObserveReload(table string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcome := ReloadFailure
	if success {
		outcome = ReloadSuccess
	}
	tableLabel := normalizeLabel(table)
	r.reloads.WithLabelValues(tableLabel, string(outcome)).Inc()
	r.reloadDuration.WithLabelValues(tableLabel, string(outcome)).Observe(duration.Seconds())
}

// ObserveIndex records the size of a newly published index.
func (r *Recorder) ObserveIndex(table string, records, skipped int) {
	if r == nil {
		return
	}
	tableLabel := normalizeLabel(table)
	r.indexRecords.WithLabelValues(tableLabel).Set(float64(records))
	r.indexSkipped.WithLabelValues(tableLabel).Set(float64(skipped))
}

// CacheObserver returns a resolver.Observer bound to table. Label lookups
// happen once here rather than on every resolve.
func (r *Recorder) CacheObserver(table string) resolver.Observer {
	if r == nil {
		return nil
	}
	tableLabel := normalizeLabel(table)
	return &cacheObserver{
		hit:        r.resolves.WithLabelValues(tableLabel, string(ResolveHit)),
		miss:       r.resolves.WithLabelValues(tableLabel, string(ResolveMiss)),
		evict:      r.evictions.WithLabelValues(tableLabel),
		invalidate: r.invalidations.WithLabelValues(tableLabel),
	}
}

type cacheObserver struct {
	hit, miss, evict, invalidate prometheus.Counter
}

func (o *cacheObserver) Hit()        { o.hit.Inc() }
func (o *cacheObserver) Miss()       { o.miss.Inc() }
func (o *cacheObserver) Evict()      { o.evict.Inc() }
func (o *cacheObserver) Invalidate() { o.invalidate.Inc() }

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
