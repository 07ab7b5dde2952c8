package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/observability"
)

func newTestServer(t *testing.T, progress ProgressSource) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_pages_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)
	return NewServer(Config{Address: "127.0.0.1:0", Gatherer: reg}, progress, zerolog.Nop()), reg
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

type stubDatabase struct {
	status database.HealthStatus
}

func (d stubDatabase) Health(context.Context) database.HealthStatus {
	return d.status
}

func TestHealthz_Database(t *testing.T) {
	tests := []struct {
		name       string
		status     database.HealthStatus
		wantCode   int
		wantStatus string
		wantError  string
	}{
		{
			name:       "healthy",
			status:     database.HealthStatus{Status: "healthy", MaxConns: 4},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "unreachable",
			status:     database.HealthStatus{Status: "unhealthy", Error: "connection refused"},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantError:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{
				Address:  "127.0.0.1:0",
				Gatherer: prometheus.NewRegistry(),
				Database: stubDatabase{status: tt.status},
			}, nil, zerolog.Nop())
			rec := get(t, s, "/healthz")

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.status.Status, body["database"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Correlation-ID"))
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_pages_total 3")
}

func TestMetrics_CustomPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(Config{MetricsPath: "/internal/metrics", Gatherer: reg}, nil, zerolog.Nop())

	assert.Equal(t, http.StatusOK, get(t, s, "/internal/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestProgress(t *testing.T) {
	tracker := observability.NewProgressTracker()
	tracker.Report(observability.ProgressEvent{Provider: "scidir", Phase: observability.PhaseDiscovery, Page: 2, TotalPages: 5})
	tracker.Report(observability.ProgressEvent{Provider: "acm", Phase: observability.PhaseEnrichment, Batch: 1, TotalBatches: 3, Done: 20})
	s, _ := newTestServer(t, tracker)

	rec := get(t, s, "/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var body progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "acm", body.Providers[0].Provider)
	assert.Equal(t, 20, body.Providers[0].Done)
	assert.Equal(t, "scidir", body.Providers[1].Provider)

	rec = get(t, s, "/progress/scidir")
	require.Equal(t, http.StatusOK, rec.Code)
	var event observability.ProgressEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, 2, event.Page)
	assert.Equal(t, observability.PhaseDiscovery, event.Phase)

	rec = get(t, s, "/progress/ieee")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ieee"))
}

func TestProgress_NoSource(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s, "/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providers":[]}`, rec.Body.String())
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	// Shutdown before or after Serve begins must both end Start cleanly.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}
