package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for scan sweeps.
type Metrics struct {
	Sweeps           prometheus.Counter
	SweepDuration    prometheus.Histogram
	EndpointOutcomes *prometheus.CounterVec
	RecordsRefreshed *prometheus.CounterVec
	InFlight         prometheus.Gauge
}

// NewMetrics creates and registers scheduler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "appview_scan_sweeps_total",
			Help: "Completed scan sweeps",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "appview_scan_sweep_duration_seconds",
			Help:    "Wall time of a scan sweep",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		EndpointOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_scan_endpoint_outcomes_total",
			Help: "Per-endpoint scan outcomes",
		}, []string{"outcome"}),
		RecordsRefreshed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_scan_records_refreshed_total",
			Help: "Records sent through refresh during scans, by result",
		}, []string{"result"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "appview_scan_tasks_in_flight",
			Help: "Endpoint scan tasks currently running",
		}),
	}
}

func (m *Metrics) observeSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) observeEndpoint(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.EndpointOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.RecordsRefreshed.WithLabelValues(result).Inc()
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) taskDone() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}
