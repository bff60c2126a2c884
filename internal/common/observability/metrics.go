package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the platform. All methods are
// safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	// Registry owns these collectors and backs the /metrics endpoint.
	Registry *prometheus.Registry

	settlements          *prometheus.CounterVec
	settlementDuration   *prometheus.HistogramVec
	vendorErrors         *prometheus.CounterVec
	fundings             *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	eventsDropped        prometheus.Counter
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

// NewMetrics registers all collectors in a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vtu_settlements_total",
				Help: "Purchase settlements by product type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vtu_settlement_duration_seconds",
				Help:    "End-to-end settlement latency including the vendor call.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		vendorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vtu_vendor_errors_total",
				Help: "Failed vendor calls.",
			},
			[]string{"vendor"},
		),
		fundings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vtu_wallet_fundings_total",
				Help: "Wallet funding operations by kind.",
			},
			[]string{"kind"},
		),
		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtu_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full or delivery failed.",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vtu_events_dropped_total",
			Help: "Domain events that could not be published.",
		}),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vtu_http_requests_total",
				Help: "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vtu_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveSettlement records one purchase attempt.
func (m *Metrics) ObserveSettlement(productType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(productType, outcome).Inc()
	m.settlementDuration.WithLabelValues(productType).Observe(d.Seconds())
}

// IncrVendorError increments the vendor error counter.
func (m *Metrics) IncrVendorError(vendor string) {
	if m == nil {
		return
	}
	m.vendorErrors.WithLabelValues(vendor).Inc()
}

// IncrFunding increments the funding counter for kind.
func (m *Metrics) IncrFunding(kind string) {
	if m == nil {
		return
	}
	m.fundings.WithLabelValues(kind).Inc()
}

// IncrNotificationDropped increments the dropped notification counter.
func (m *Metrics) IncrNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

// IncrEventDropped increments the dropped event counter.
func (m *Metrics) IncrEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
