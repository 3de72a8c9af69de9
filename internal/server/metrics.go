package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

// Metrics holds the Prometheus collectors exported on /metrics. All methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	InFlight          prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	WSConnections     prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry so several
// servers can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_executions_total",
				Help: "Total number of executions by outcome",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbox_execution_duration_seconds",
				Help:    "Execution wall-clock time in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 1.5, 2.5, 5},
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_executions_in_flight",
				Help: "Number of executions currently running",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbox_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// begin marks an execution as started; the returned func records its outcome.
func (m *Metrics) begin() func(*sandbox.Outcome) {
	if m == nil {
		return func(*sandbox.Outcome) {}
	}
	m.InFlight.Inc()
	return func(out *sandbox.Outcome) {
		m.InFlight.Dec()
		m.ExecutionsTotal.WithLabelValues(out.Status()).Inc()
		m.ExecutionDuration.Observe(out.Duration.Seconds())
	}
}

func (m *Metrics) wsOpened() {
	if m != nil {
		m.WSConnections.Inc()
	}
}

func (m *Metrics) wsClosed() {
	if m != nil {
		m.WSConnections.Dec()
	}
}

// instrument counts requests by route pattern, not raw path.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
