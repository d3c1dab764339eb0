package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/resolver"
)

func TestRecorderObserveReload(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveReload("circuit", true, 250*time.Millisecond)
	rec.ObserveReload("circuit", false, 10*time.Millisecond)

	families := gather(t, rec, "uriguard_reload_total", "uriguard_reload_duration_seconds")

	success := findMetric(t, families["uriguard_reload_total"], map[string]string{
		"table":   "circuit",
		"outcome": string(ReloadSuccess),
	})
	if got := success.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}
	failure := findMetric(t, families["uriguard_reload_total"], map[string]string{
		"table":   "circuit",
		"outcome": string(ReloadFailure),
	})
	if got := failure.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}

	histMetric := findMetric(t, families["uriguard_reload_duration_seconds"], map[string]string{
		"table":   "circuit",
		"outcome": string(ReloadSuccess),
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for reload latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveIndex(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveIndex("blacklist", 12, 2)

	families := gather(t, rec, "uriguard_index_records", "uriguard_index_skipped")
	records := findMetric(t, families["uriguard_index_records"], map[string]string{"table": "blacklist"})
	if got := records.GetGauge().GetValue(); got != 12 {
		t.Fatalf("expected 12 records, got %v", got)
	}
	skipped := findMetric(t, families["uriguard_index_skipped"], map[string]string{"table": "blacklist"})
	if got := skipped.GetGauge().GetValue(); got != 2 {
		t.Fatalf("expected 2 skipped, got %v", got)
	}
}

func TestCacheObserverCountsResolves(t *testing.T) {
	rec := NewRecorder(nil)
	cache := resolver.New[policy.CircuitBreaker](resolver.Options{
		Name:       "circuit",
		MaxEntries: 1,
		Shards:     1,
		Observer:   rec.CacheObserver("circuit"),
	})
	cache.Resolve("/a")
	cache.Resolve("/a")
	cache.Resolve("/b")
	cache.InvalidateAll()

	families := gather(t, rec,
		"uriguard_resolve_total",
		"uriguard_cache_evictions_total",
		"uriguard_cache_invalidations_total",
	)
	hits := findMetric(t, families["uriguard_resolve_total"], map[string]string{"table": "circuit", "result": "hit"})
	if got := hits.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	misses := findMetric(t, families["uriguard_resolve_total"], map[string]string{"table": "circuit", "result": "miss"})
	if got := misses.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}
	evictions := findMetric(t, families["uriguard_cache_evictions_total"], map[string]string{"table": "circuit"})
	if got := evictions.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 eviction, got %v", got)
	}
	invalidations := findMetric(t, families["uriguard_cache_invalidations_total"], map[string]string{"table": "circuit"})
	if got := invalidations.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 invalidation, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveReload("x", true, time.Second)
	rec.ObserveIndex("x", 1, 0)
	if rec.CacheObserver("x") != nil {
		t.Fatalf("expected nil observer from nil recorder")
	}
	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
