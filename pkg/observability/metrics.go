package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	AuthAttemptsTotal  *prometheus.CounterVec
	TokensIssuedTotal  *prometheus.CounterVec
	APIErrorsTotal     *prometheus.CounterVec

	// Session metrics
	SessionsCreatedTotal prometheus.Counter
	SessionsDeletedTotal prometheus.Counter
	SessionsReapedTotal  prometheus.Counter

	// Email metrics
	EmailsDispatchedTotal *prometheus.CounterVec

	// Export metrics
	ExportsStartedTotal   prometheus.Counter
	ExportsCompletedTotal prometheus.Counter
	ExportDuration        prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	UsersTotal          prometheus.Gauge
	ConfirmedUsersTotal prometheus.Gauge
	ActiveSessionsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appmantle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appmantle_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_auth_attempts_total",
				Help: "Total number of credential verifications",
			},
			[]string{"kind", "result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_tokens_issued_total",
				Help: "Total number of JWTs issued",
			},
			[]string{"flow"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_api_errors_total",
				Help: "Total number of API errors by code",
			},
			[]string{"code"},
		),

		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmantle_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmantle_sessions_deleted_total",
				Help: "Total number of sessions deleted by clients",
			},
		),
		SessionsReapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmantle_sessions_reaped_total",
				Help: "Total number of expired sessions removed by the cleaner",
			},
		),

		EmailsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_emails_dispatched_total",
				Help: "Total number of transactional emails dispatched",
			},
			[]string{"kind", "status"},
		),

		ExportsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmantle_exports_started_total",
				Help: "Total number of data export jobs started",
			},
		),
		ExportsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appmantle_exports_completed_total",
				Help: "Total number of data export jobs completed",
			},
		),
		ExportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "appmantle_export_duration_seconds",
				Help:    "Data export job duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmantle_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmantle_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmantle_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmantle_users_total",
				Help: "Total number of user accounts",
			},
		),
		ConfirmedUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmantle_confirmed_users_total",
				Help: "Total number of confirmed user accounts",
			},
		),
		ActiveSessionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmantle_active_sessions_total",
				Help: "Number of unexpired sessions",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthAttemptsTotal,
		m.TokensIssuedTotal,
		m.APIErrorsTotal,
		m.SessionsCreatedTotal,
		m.SessionsDeletedTotal,
		m.SessionsReapedTotal,
		m.EmailsDispatchedTotal,
		m.ExportsStartedTotal,
		m.ExportsCompletedTotal,
		m.ExportDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.UsersTotal,
		m.ConfirmedUsersTotal,
		m.ActiveSessionsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
