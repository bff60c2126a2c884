package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSettlement("AIRTIME", "success", time.Second)
		m.IncrVendorError("demo")
		m.IncrFunding("gateway")
		m.IncrNotificationDropped()
		m.IncrEventDropped()
	})
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.ObserveSettlement("DATA", "success", 20*time.Millisecond)
	m.ObserveSettlement("DATA", "vendor_error", 20*time.Millisecond)
	m.IncrVendorError("topupng")
	m.IncrNotificationDropped()

	assert.Equal(t, 1.0, counterValue(t, m.settlements.WithLabelValues("DATA", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.vendorErrors.WithLabelValues("topupng")))
	assert.Equal(t, 1.0, counterValue(t, m.notificationsDropped))

	// A second instance must not collide with the first.
	assert.NotPanics(t, func() { NewMetrics() })
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, counterValue(t, m.httpRequests.WithLabelValues("GET", "/transactions/{id}", "418")))

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "vtu_http_requests_total")
}

func TestInitTracerDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := InitTracer(context.Background(), TracingConfig{}, logger)
	require.NoError(t, err)
	shutdown(context.Background())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
