package origin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for origin calls.
type Metrics struct {
	Requests           *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	BreakerTransitions *prometheus.CounterVec
	ShortCircuited     prometheus.Counter
}

// NewMetrics creates and registers origin metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_origin_requests_total",
			Help: "Origin calls by operation and outcome (ok, not_found, or failure kind)",
		}, []string{"operation", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appview_origin_request_duration_seconds",
			Help:    "Duration of origin calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "appview_origin_breaker_transitions_total",
			Help: "Circuit breaker transitions by direction",
		}, []string{"transition"}),
		ShortCircuited: factory.NewCounter(prometheus.CounterOpts{
			Name: "appview_origin_short_circuited_total",
			Help: "Calls rejected by an open circuit without a network attempt",
		}),
	}
}

// ObserveRequest records a finished call.
func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncBreakerTransition counts a breaker opening or closing.
func (m *Metrics) IncBreakerTransition(transition string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(transition).Inc()
}

// IncShortCircuited counts a call rejected by an open breaker.
func (m *Metrics) IncShortCircuited() {
	if m == nil {
		return
	}
	m.ShortCircuited.Inc()
}
