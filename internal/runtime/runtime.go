package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/uriguard/internal/metrics"
	"github.com/l0p7/uriguard/internal/netutil"
	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/reload"
	"github.com/l0p7/uriguard/internal/resolver"
)

// Table names.
const (
	TableCircuit   = "circuit"
	TableBlacklist = "blacklist"
)

type Options struct {
	CircuitSource   reload.Source[policy.CircuitBreaker]
	BlacklistSource reload.Source[policy.BlacklistRule]
	MaxEntries      int
	Shards          int
	Build           policy.BuildOptions
	ReloadTimeout   time.Duration
	Metrics         *metrics.Recorder
	Version         string
}

// Runtime owns the circuit breaker and blacklist tables and serves the admin
// surface over them.
type Runtime struct {
	logger    *slog.Logger
	version   string
	circuit   *Table[policy.CircuitBreaker]
	blacklist *Table[policy.BlacklistRule]
	tables    []table
}

type tableContextKey struct{}

func New(logger *slog.Logger, opts Options) (*Runtime, error) {
	if opts.CircuitSource == nil || opts.BlacklistSource == nil {
		return nil, errors.New("runtime: circuit and blacklist sources required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tableOpts := TableOptions{
		MaxEntries: opts.MaxEntries,
		Shards:     opts.Shards,
		Metrics:    opts.Metrics,
		Reload: reload.Options{
			Timeout: opts.ReloadTimeout,
			Build:   opts.Build,
			Logger:  logger,
		},
	}
	rt := &Runtime{
		logger:    logger,
		version:   opts.Version,
		circuit:   NewTable(TableCircuit, opts.CircuitSource, tableOpts),
		blacklist: NewTable(TableBlacklist, opts.BlacklistSource, tableOpts),
	}
	rt.tables = []table{rt.circuit, rt.blacklist}
	return rt, nil
}

// ResolveCircuitBreaker returns the breaker policy for uri, if any.
func (rt *Runtime) ResolveCircuitBreaker(uri string) (policy.Record[policy.CircuitBreaker], bool) {
	return rt.circuit.Resolve(uri)
}

// ResolveBlacklist returns the blacklist rule for uri, if any.
func (rt *Runtime) ResolveBlacklist(uri string) (policy.Record[policy.BlacklistRule], bool) {
	return rt.blacklist.Resolve(uri)
}

// ReloadAll reloads every table in one pass, so stores backed by a single
// document feed every table from the same read. A failing table does not
// stop the others; the returned error joins every failure.
func (rt *Runtime) ReloadAll(ctx context.Context) error {
	ctx = reload.WithBatch(ctx)
	var errs []error
	for _, t := range rt.tables {
		if err := t.Reload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ReloadBudget is the deadline a caller should give ReloadAll when each
// table's fetch is bounded by perTable. Tables reload one after another, so
// the budget grows with the table count. Zero means unbounded.
func (rt *Runtime) ReloadBudget(perTable time.Duration) time.Duration {
	if perTable <= 0 {
		return 0
	}
	return perTable * time.Duration(len(rt.tables))
}

// Ready reports whether every table has published an index.
func (rt *Runtime) Ready() bool {
	for _, t := range rt.tables {
		if t.State() != reload.StateActive {
			return false
		}
	}
	return true
}

// TableExists reports whether name is a known table.
func (rt *Runtime) TableExists(name string) bool {
	_, ok := rt.lookupTable(name)
	return ok
}

// RequestWithTableHint scopes r to a single table for the admin handlers.
func (rt *Runtime) RequestWithTableHint(r *http.Request, name string) *http.Request {
	if r == nil || strings.TrimSpace(name) == "" {
		return r
	}
	ctx := context.WithValue(r.Context(), tableContextKey{}, name)
	return r.WithContext(ctx)
}

func tableHintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	hint, _ := ctx.Value(tableContextKey{}).(string)
	return strings.TrimSpace(hint)
}

// WriteError emits a JSON error payload listing the known tables.
func (rt *Runtime) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{
		"error":           message,
		"availableTables": rt.tableNames(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("error response encode failed", slog.Any("error", err))
	}
}

// ServeWarmup answers readiness probes: "ok" once every table is active.
func (rt *Runtime) ServeWarmup(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !rt.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "policy tables not loaded yet")
		return
	}
	_, _ = io.WriteString(w, "ok")
}

func (rt *Runtime) ServeVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, rt.version)
}

type tableHealth struct {
	reload.Status
	Cache resolver.Stats `json:"cache"`
}

// ServeHealth reports per-table reload status and cache statistics.
func (rt *Runtime) ServeHealth(w http.ResponseWriter, r *http.Request) {
	selected, ok := rt.tablesForRequest(w, r)
	if !ok {
		return
	}
	tables := make([]tableHealth, 0, len(selected))
	status := "ok"
	for _, t := range selected {
		tables = append(tables, tableHealth{Status: t.Status(), Cache: t.Stats()})
		switch t.State() {
		case reload.StateActive:
		case reload.StateFailed:
			status = "failed"
		default:
			if status == "ok" {
				status = "starting"
			}
		}
	}
	payload := map[string]any{
		"status":     status,
		"version":    rt.version,
		"hostIp":     netutil.LocalIP(),
		"observedAt": time.Now().UTC(),
		"tables":     tables,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("health encode failed", slog.Any("error", err))
	}
}

// ServeResolve explains which policy each selected table assigns to the uri
// query parameter. The table comes from the route hint or the table query
// parameter; without either every table is consulted.
func (rt *Runtime) ServeResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		rt.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		rt.WriteError(w, http.StatusBadRequest, "uri query parameter required")
		return
	}
	selected, ok := rt.tablesForRequest(w, r)
	if !ok {
		return
	}
	results := make([]Resolution, 0, len(selected))
	for _, t := range selected {
		results = append(results, t.explain(uri))
	}
	payload := struct {
		URI        string       `json:"uri"`
		ObservedAt time.Time    `json:"observedAt"`
		Results    []Resolution `json:"results"`
	}{
		URI:        uri,
		ObservedAt: time.Now().UTC(),
		Results:    results,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("resolve encode failed", slog.Any("error", err))
	}
}

// ServeReload reloads the selected tables. It answers 200 with the new
// statuses, or 503 when any table failed to reload.
func (rt *Runtime) ServeReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		rt.WriteError(w, http.StatusMethodNotAllowed, "reload requires POST")
		return
	}
	selected, ok := rt.tablesForRequest(w, r)
	if !ok {
		return
	}
	ctx := reload.WithBatch(r.Context())
	var errs []error
	for _, t := range selected {
		if err := t.Reload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn("admin reload failed", slog.Any("error", err))
		rt.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	statuses := make([]reload.Status, 0, len(selected))
	for _, t := range selected {
		statuses = append(statuses, t.Status())
	}
	rt.logger.Info("admin reload completed", slog.Int("tables", len(selected)))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "reloaded", "tables": statuses}); err != nil {
		rt.logger.Error("reload encode failed", slog.Any("error", err))
	}
}

// tablesForRequest picks the tables a request targets, writing a 404 and
// returning false for an unknown name.
func (rt *Runtime) tablesForRequest(w http.ResponseWriter, r *http.Request) ([]table, bool) {
	name := tableHintFromContext(r.Context())
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("table"))
	}
	if name == "" {
		return rt.tables, true
	}
	t, ok := rt.lookupTable(name)
	if !ok {
		rt.WriteError(w, http.StatusNotFound, fmt.Sprintf("table %q not found", name))
		return nil, false
	}
	return []table{t}, true
}

func (rt *Runtime) lookupTable(name string) (table, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range rt.tables {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func (rt *Runtime) tableNames() []string {
	names := make([]string, 0, len(rt.tables))
	for _, t := range rt.tables {
		names = append(names, t.Name())
	}
	return names
}
