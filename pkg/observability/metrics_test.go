package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.AssertionValidationsTotal.WithLabelValues("ok").Inc()
	m.SessionValidationsTotal.WithLabelValues("cookie", "valid").Inc()
	m.DeviceCodesIssuedTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AssertionValidationsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionValidationsTotal.WithLabelValues("cookie", "valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeviceCodesIssuedTotal))
}

func TestNewMetricsDoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/saml/login", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/saml/login", "418")))
}
