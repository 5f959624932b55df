package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waterwatch/pkg/flow"
)

// Metrics holds every collector the service exports. All record methods
// are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	RecomputesTotal   *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
	FlowIterations    prometheus.Histogram
	FlowCoverage      prometheus.Gauge
	FlowSegments      *prometheus.GaugeVec

	TelemetryTotal *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	Sessions       prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a private registry together with the Go
// and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecomputesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "recomputes_total",
			Help:      "Flow recomputations by outcome",
		}, []string{"status"}),

		RecomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "recompute_duration_seconds",
			Help:      "Duration of flow recomputations including the snapshot fetch",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		FlowIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "iterations",
			Help:      "Queue dequeues per flow computation",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		FlowCoverage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "coverage_ratio",
			Help:      "Share of pipeline segments currently carrying flow",
		}),

		FlowSegments: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "segments",
			Help:      "Pipeline segments by flow state",
		}, []string{"state"}),

		TelemetryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "samples_total",
			Help:      "Telemetry samples processed by outcome",
		}, []string{"status"}),

		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "System events published by type",
		}, []string{"type"}),

		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "sessions",
			Help:      "Connected websocket sessions",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRecompute records a successful computation.
func (m *Metrics) RecordRecompute(d time.Duration, res flow.Result) {
	if m == nil {
		return
	}
	status := "ok"
	if res.Truncated {
		status = "truncated"
	}
	m.RecomputesTotal.WithLabelValues(status).Inc()
	m.RecomputeDuration.Observe(d.Seconds())
	m.FlowIterations.Observe(float64(res.Iterations))
	m.FlowCoverage.Set(res.Coverage())

	flowing, blocked := len(res.Flowing), len(res.Blocked)
	m.FlowSegments.WithLabelValues("flowing").Set(float64(flowing))
	m.FlowSegments.WithLabelValues("blocked").Set(float64(blocked))
	m.FlowSegments.WithLabelValues("untouched").Set(float64(res.TotalSegmentCount - flowing - blocked))
}

func (m *Metrics) RecordRecomputeFailure() {
	if m == nil {
		return
	}
	m.RecomputesTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) RecordTelemetry(status string) {
	if m == nil {
		return
	}
	m.TelemetryTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
