package server

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type stubAdmin struct {
	tables              map[string]bool
	calls               map[string]int
	hints               []string
	receivedHintHeaders []string
	writeErrorCalled    bool
	writeErrorStatus    int
	writeErrorMessage   string
}

func (s *stubAdmin) record(name string, w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
	s.receivedHintHeaders = append(s.receivedHintHeaders, r.Header.Get("X-Table-Hint"))
	w.WriteHeader(http.StatusOK)
}

func (s *stubAdmin) ServeWarmup(w http.ResponseWriter, r *http.Request)  { s.record("warmup", w, r) }
func (s *stubAdmin) ServeVersion(w http.ResponseWriter, r *http.Request) { s.record("version", w, r) }
func (s *stubAdmin) ServeHealth(w http.ResponseWriter, r *http.Request)  { s.record("health", w, r) }
func (s *stubAdmin) ServeResolve(w http.ResponseWriter, r *http.Request) { s.record("resolve", w, r) }
func (s *stubAdmin) ServeReload(w http.ResponseWriter, r *http.Request)  { s.record("reload", w, r) }

func (s *stubAdmin) TableExists(name string) bool {
	return s.tables[name]
}

func (s *stubAdmin) RequestWithTableHint(r *http.Request, table string) *http.Request {
	s.hints = append(s.hints, table)
	cloned := r.Clone(r.Context())
	cloned.Header.Set("X-Table-Hint", table)
	return cloned
}

func (s *stubAdmin) WriteError(w http.ResponseWriter, status int, message string) {
	s.writeErrorCalled = true
	s.writeErrorStatus = status
	s.writeErrorMessage = message
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func TestParseAdminRoute(t *testing.T) {
	cases := map[string]struct {
		path  string
		table string
		route string
		ok    bool
	}{
		"root warmup":    {path: "/warmup", route: "warmup", ok: true},
		"root version":   {path: "/version", route: "version", ok: true},
		"root health":    {path: "/health", route: "healthz", ok: true},
		"root healthz":   {path: "/healthz", route: "healthz", ok: true},
		"root resolve":   {path: "/resolve", route: "resolve", ok: true},
		"root reload":    {path: "/reload", route: "reload", ok: true},
		"root metrics":   {path: "/metrics", route: "metrics", ok: true},
		"scoped resolve": {path: "/circuit/resolve", table: "circuit", route: "resolve", ok: true},
		"scoped health":  {path: "/blacklist/health", table: "blacklist", route: "healthz", ok: true},
		"scoped reload":  {path: "/circuit/reload", table: "circuit", route: "reload", ok: true},
		"scoped warmup":  {path: "/circuit/warmup", ok: false},
		"double slash":   {path: "//circuit//resolve//", ok: false},
		"unknown root":   {path: "/unknown", ok: false},
		"empty path":     {path: "/", ok: false},
		"blank path":     {path: "", ok: false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			table, route, ok := parseAdminRoute(tc.path)
			if table != tc.table || route != tc.route || ok != tc.ok {
				t.Fatalf("parseAdminRoute(%q) = (%q, %q, %t), want (%q, %q, %t)",
					tc.path, table, route, ok, tc.table, tc.route, tc.ok)
			}
		})
	}
}

func TestNewAdminHandlerNilRuntime(t *testing.T) {
	handler := NewAdminHandler(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/warmup", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 when runtime unavailable, got %d", rec.Code)
	}
}

func TestAdminHandlerDispatchesRoutes(t *testing.T) {
	stub := &stubAdmin{tables: map[string]bool{"circuit": true}}
	metricsCalls := 0
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metricsCalls++
		w.WriteHeader(http.StatusOK)
	})
	handler := NewAdminHandler(stub, metrics)

	tests := []struct {
		name      string
		path      string
		wantCall  string
		wantHints []string
	}{
		{name: "warmup", path: "/warmup", wantCall: "warmup"},
		{name: "version", path: "/version", wantCall: "version"},
		{name: "health alias", path: "/health", wantCall: "health"},
		{name: "resolve", path: "/resolve?uri=/a", wantCall: "resolve"},
		{name: "reload", path: "/reload", wantCall: "reload"},
		{name: "scoped resolve uses hint", path: "/circuit/resolve", wantCall: "resolve", wantHints: []string{"circuit"}},
		{name: "scoped health uses hint", path: "/circuit/healthz", wantCall: "health", wantHints: []string{"circuit"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub.calls = nil
			stub.hints = nil
			stub.receivedHintHeaders = nil

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, http.NoBody)
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if stub.calls[tc.wantCall] != 1 || len(stub.calls) != 1 {
				t.Fatalf("expected one %s call, got %v", tc.wantCall, stub.calls)
			}
			if len(tc.wantHints) == 0 {
				if len(stub.hints) != 0 {
					t.Fatalf("expected no table hints, got %v", stub.hints)
				}
				return
			}
			if !reflect.DeepEqual(stub.hints, tc.wantHints) {
				t.Fatalf("expected hints %v, got %v", tc.wantHints, stub.hints)
			}
			for i, hint := range tc.wantHints {
				if stub.receivedHintHeaders[i] != hint {
					t.Fatalf("expected request to carry hint header %q, got %q", hint, stub.receivedHintHeaders[i])
				}
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK || metricsCalls != 1 {
		t.Fatalf("expected metrics handler to serve /metrics, got status %d calls %d", rec.Code, metricsCalls)
	}
}

func TestAdminHandlerWithoutMetrics(t *testing.T) {
	handler := NewAdminHandler(&stubAdmin{}, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rec.Code)
	}
}

func TestAdminHandlerMissingTable(t *testing.T) {
	stub := &stubAdmin{tables: map[string]bool{}}
	handler := NewAdminHandler(stub, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing/resolve", http.NoBody)

	handler.ServeHTTP(rec, req)

	if !stub.writeErrorCalled {
		t.Fatalf("expected WriteError to be invoked for unknown table")
	}
	if stub.writeErrorStatus != http.StatusNotFound {
		t.Fatalf("expected WriteError to use 404, got %d", stub.writeErrorStatus)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected recorder to capture 404, got %d", rec.Code)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no runtime calls on missing table, got %v", stub.calls)
	}
}

func TestAdminHandlerNotFound(t *testing.T) {
	stub := &stubAdmin{}
	handler := NewAdminHandler(stub, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/unsupported/path", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported route, got %d", rec.Code)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no runtime calls for unsupported route")
	}
}
