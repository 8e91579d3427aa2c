package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/trademe-shop-scraper/internal/fetch"
	"github.com/dkorolev/trademe-shop-scraper/internal/metrics"
	"github.com/dkorolev/trademe-shop-scraper/internal/pipeline"
)

type staticStatus struct {
	s pipeline.Status
}

func (p staticStatus) Status() pipeline.Status { return p.s }

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	m := metrics.New()
	provider := staticStatus{s: pipeline.Status{
		RunID:       "run-1",
		CurrentShop: "Acme",
		Phase:       "visit_products",
	}}
	counters := fetch.NewCounters(298)
	for i := 0; i < 42; i++ {
		counters.IncRequests()
	}
	return NewServer(":0", provider, counters, m.Registry), m.Registry
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "Acme", body["current_shop"])
	assert.Equal(t, "visit_products", body["phase"])
	assert.Equal(t, float64(42), body["requests_issued"])
	assert.Equal(t, float64(298), body["unauthenticated_budget"])
}

func TestStatusEndpointDuringActiveCrawl(t *testing.T) {
	m := metrics.New()
	counters := fetch.NewCounters(300)
	s := NewServer(":0", staticStatus{}, counters, m.Registry)

	// The crawl goroutine keeps mutating the counters while the status
	// handler reads them. Run with the race detector on.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			counters.IncRequests()
			counters.ConsumeBudget()
		}
	}()

	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	<-done

	assert.Equal(t, 1000, counters.RequestsIssued())
	assert.Equal(t, -700, counters.UnauthBudget())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
