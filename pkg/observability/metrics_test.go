package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.AuthAttemptsTotal.WithLabelValues("dev", "success").Inc()
	m.SessionsCreatedTotal.Inc()

	if got := testutil.ToFloat64(m.SessionsCreatedTotal); got != 1 {
		t.Errorf("expected sessions created 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuthAttemptsTotal.WithLabelValues("dev", "success")); got != 1 {
		t.Errorf("expected auth attempts 1, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not here"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/auth/user/9", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %d", rec.Code)
	}
	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/auth/user/9", "404"))
	if count != 1 {
		t.Errorf("expected request counter 1, got %v", count)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", rec.Code)
	}
}
