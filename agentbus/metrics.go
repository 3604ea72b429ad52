// Package agentbus metrics, following the promauto pattern: package-level
// collectors registered once at init, recorded through small helper
// functions.
package agentbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbp_bus_messages_routed_total",
			Help: "Total number of structured messages routed through the agent bus",
		},
		[]string{"kind", "status"}, // status: delivered, broadcast, no_handler
	)

	handlerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cbp_bus_handler_duration_seconds",
			Help:    "Handler invocation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"agent"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbp_bus_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"to_state"},
	)

	dedupCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbp_bus_dedup_cache_hits_total",
			Help: "Resilient send_and_wait calls served from the dedup cache",
		},
	)
)

func recordRouted(kind, status string) {
	messagesRoutedTotal.WithLabelValues(kind, status).Inc()
}

func recordHandlerDuration(agent string, seconds float64) {
	handlerDurationSeconds.WithLabelValues(agent).Observe(seconds)
}

func recordBreakerTransition(toState string) {
	breakerTransitionsTotal.WithLabelValues(toState).Inc()
}

func recordDedupHit() {
	dedupCacheHitsTotal.Inc()
}
