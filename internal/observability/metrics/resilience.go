package metrics

import "github.com/prometheus/client_golang/prometheus"

// ResilienceMetrics exports outbound retries and circuit breaker state.
type ResilienceMetrics struct {
	retries      *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

func NewResilienceMetrics(service string, registerer prometheus.Registerer) *ResilienceMetrics {
	labels := prometheus.Labels{"service": service}
	m := &ResilienceMetrics{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "outbound",
			Name:        "retries_total",
			Help:        "Retried outbound calls by operation.",
			ConstLabels: labels,
		}, []string{"operation"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "outbound",
			Name:        "breaker_state",
			Help:        "Circuit breaker state by operation: 0 closed, 1 half-open, 2 open.",
			ConstLabels: labels,
		}, []string{"operation"}),
	}
	registerer.MustRegister(m.retries, m.breakerState)
	return m
}

func (m *ResilienceMetrics) ObserveRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

func (m *ResilienceMetrics) ObserveBreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
