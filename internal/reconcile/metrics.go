package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for reconciliation.
type Metrics struct {
	Checks    *prometheus.CounterVec
	Refreshes *prometheus.CounterVec
}

// NewMetrics creates and registers reconciliation metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_reconcile_checks_total",
			Help: "Staleness checks by operation and resulting status",
		}, []string{"operation", "status"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_reconcile_refreshes_total",
			Help: "Refreshes by outcome (applied, removed, error)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeCheck(op string, status Status) {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues(op, string(status)).Inc()
}

func (m *Metrics) observeRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}
