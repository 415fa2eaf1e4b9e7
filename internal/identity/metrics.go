package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for identity resolution.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	Resolutions  *prometheus.CounterVec
}

// NewMetrics creates and registers identity metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_identity_cache_lookups_total",
			Help: "Identity cache lookups by tier and result",
		}, []string{"tier", "result"}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_identity_resolutions_total",
			Help: "DID document fetches by method and outcome",
		}, []string{"method", "outcome"}),
	}
}

func (m *Metrics) cacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) resolution(method, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(method, outcome).Inc()
}
