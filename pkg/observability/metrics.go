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

	// Login flow metrics
	LoginRedirectsTotal       *prometheus.CounterVec
	AssertionValidationsTotal *prometheus.CounterVec
	SessionsIssuedTotal       *prometheus.CounterVec

	// Per-request session validation at the edge
	SessionValidationsTotal   *prometheus.CounterVec
	SessionValidationDuration *prometheus.HistogramVec

	// Crypto envelope metrics
	EnvelopeOperationsTotal   *prometheus.CounterVec
	EnvelopeOperationDuration *prometheus.HistogramVec

	// Session store metrics
	StoreOperationsTotal    *prometheus.CounterVec
	StoreOperationDuration  *prometheus.HistogramVec

	// Device-code flow metrics
	DeviceCodesIssuedTotal   prometheus.Counter
	DeviceCodeApprovalsTotal *prometheus.CounterVec
	DeviceCodePollsTotal     *prometheus.CounterVec
	DeviceCodesSweptTotal    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_auth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginRedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_login_redirects_total",
				Help: "Total number of redirects to the identity provider",
			},
			[]string{"reason"}, // no_session, invalid_session, explicit
		),
		AssertionValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_assertion_validations_total",
				Help: "Total number of SAML assertion validations by outcome",
			},
			[]string{"outcome"},
		),
		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_sessions_issued_total",
				Help: "Total number of sessions minted after successful login",
			},
			[]string{"transport"},
		),

		SessionValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_session_validations_total",
				Help: "Total number of per-request session validations by outcome",
			},
			[]string{"transport", "outcome"}, // valid, expired, invalid, missing
		),
		SessionValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_auth_session_validation_duration_seconds",
				Help:    "Session validation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"transport"},
		),

		EnvelopeOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_envelope_operations_total",
				Help: "Total number of envelope seal/open operations",
			},
			[]string{"operation", "backend", "status"},
		),
		EnvelopeOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_auth_envelope_operation_duration_seconds",
				Help:    "Envelope operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"operation", "backend"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_store_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_auth_store_operation_duration_seconds",
				Help:    "Session store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),

		DeviceCodesIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashborion_auth_device_codes_issued_total",
				Help: "Total number of device codes issued to CLI clients",
			},
		),
		DeviceCodeApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_device_code_approvals_total",
				Help: "Total number of device-code verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		DeviceCodePollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_device_code_polls_total",
				Help: "Total number of device-code token polls by outcome",
			},
			[]string{"outcome"},
		),
		DeviceCodesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashborion_auth_device_codes_swept_total",
				Help: "Total number of expired device codes removed by the janitor",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginRedirectsTotal,
		m.AssertionValidationsTotal,
		m.SessionsIssuedTotal,
		m.SessionValidationsTotal,
		m.SessionValidationDuration,
		m.EnvelopeOperationsTotal,
		m.EnvelopeOperationDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.DeviceCodesIssuedTotal,
		m.DeviceCodeApprovalsTotal,
		m.DeviceCodePollsTotal,
		m.DeviceCodesSweptTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label uses the route template, not the raw URL, so session IDs
// and user codes never become label values.
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
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
