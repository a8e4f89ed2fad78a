// Package metrics provides Prometheus metrics for tabcleaner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	SweepsTotal     *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	TabsClosedTotal *prometheus.CounterVec
	TrackedTabs     prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	BridgeConnected prometheus.Gauge
	DBSizeBytes     prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabcleaner_sweeps_total",
				Help: "Total number of cleanup sweeps by result.",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabcleaner_sweep_duration_seconds",
				Help:    "Cleanup sweep duration.",
				Buckets: prometheus.DefBuckets,
			},
		),
		TabsClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabcleaner_tabs_closed_total",
				Help: "Total number of tabs closed by reason.",
			},
			[]string{"reason"},
		),
		TrackedTabs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabcleaner_tracked_tabs",
				Help: "Number of tabs in the activity store.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabcleaner_requests_total",
				Help: "Total number of message requests by action and status.",
			},
			[]string{"action", "status"},
		),
		BridgeConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabcleaner_bridge_connected",
				Help: "1 when a browser extension is attached.",
			},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabcleaner_db_size_bytes",
				Help: "Size of the SQLite state database.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabcleaner_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SweepsTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.TabsClosedTotal)
	reg.MustRegister(m.TrackedTabs)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.BridgeConnected)
	reg.MustRegister(m.DBSizeBytes)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSweep counts a sweep and observes its duration.
func (m *Metrics) RecordSweep(result string, seconds float64) {
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(seconds)
}

// RecordClosed adds n closed tabs for reason.
func (m *Metrics) RecordClosed(reason string, n int) {
	if n <= 0 {
		return
	}
	m.TabsClosedTotal.WithLabelValues(reason).Add(float64(n))
}

// SetTracked sets the tracked tab count.
func (m *Metrics) SetTracked(count int) {
	m.TrackedTabs.Set(float64(count))
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(action, status string) {
	m.RequestsTotal.WithLabelValues(action, status).Inc()
}

// SetBridgeConnected sets the bridge gauge.
func (m *Metrics) SetBridgeConnected(connected bool) {
	if connected {
		m.BridgeConnected.Set(1)
		return
	}
	m.BridgeConnected.Set(0)
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	m.DBSizeBytes.Set(float64(bytes))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
