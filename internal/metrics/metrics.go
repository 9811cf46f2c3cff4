package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's prometheus collectors.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	RefusedHandshakes prometheus.Counter
	WorkProcessed     *prometheus.CounterVec
	ResultsDelivered  prometheus.Counter
	ResultsDropped    prometheus.Counter
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Currently open WebSocket connections.",
		}),
		RefusedHandshakes: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_refused_handshakes_total",
			Help: "Handshakes refused at the admission ceiling.",
		}),
		WorkProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_work_processed_total",
			Help: "Work requests processed by the worker pool.",
		}, []string{"method", "outcome"}),
		ResultsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_results_delivered_total",
			Help: "Results delivered to a live connection.",
		}),
		ResultsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_results_dropped_total",
			Help: "Results dropped because the session had disconnected.",
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
