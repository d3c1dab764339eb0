package runtime

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/uriguard/internal/policy"
)

func TestInstrumentLogsAndEchoesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt, err := New(logger, Options{
		CircuitSource:   &stubSource[policy.CircuitBreaker]{},
		BlacklistSource: &stubSource[policy.BlacklistRule]{},
	})
	require.NoError(t, err)

	handler := rt.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/warmup", http.NoBody)
	req.Header.Set(CorrelationHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get(CorrelationHeader))
	require.Contains(t, buf.String(), `"correlation_id":"req-1"`)
	require.Contains(t, buf.String(), `"status":503`)
	require.Contains(t, buf.String(), `"level":"WARN"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/warmup", http.NoBody))
	require.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}
