package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics observes batch dispatch waves and per-document outcomes.
type DispatchMetrics struct {
	service string

	waveSize         prometheus.Histogram
	waveDuration     prometheus.Histogram
	documentsTotal   *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

func NewDispatchMetrics(service string, registerer prometheus.Registerer) *DispatchMetrics {
	labels := prometheus.Labels{"service": service}
	m := &DispatchMetrics{
		service: service,
		waveSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "wave_size",
			Help:        "Documents per dispatch wave.",
			Buckets:     []float64{1, 2, 3, 5, 8, 13, 21, 34},
			ConstLabels: labels,
		}),
		waveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "wave_duration_seconds",
			Help:        "Wall time of one dispatch wave.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 90, 120},
			ConstLabels: labels,
		}),
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "documents_total",
			Help:        "Dispatched documents by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		documentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "document_duration_seconds",
			Help:        "Time until a document outcome was recorded.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 90},
			ConstLabels: labels,
		}, []string{"outcome"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "runs_total",
			Help:        "Batch dispatch runs by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "dispatch",
			Name:        "run_duration_seconds",
			Help:        "Wall time of one batch dispatch.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(
		m.waveSize,
		m.waveDuration,
		m.documentsTotal,
		m.documentDuration,
		m.dispatchesTotal,
		m.dispatchDuration,
	)
	return m
}

func (m *DispatchMetrics) ObserveWave(size int, duration time.Duration) {
	m.waveSize.Observe(float64(size))
	m.waveDuration.Observe(duration.Seconds())
}

func (m *DispatchMetrics) ObserveDocument(outcome string, duration time.Duration) {
	m.documentsTotal.WithLabelValues(outcome).Inc()
	m.documentDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *DispatchMetrics) ObserveDispatch(processed int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.dispatchesTotal.WithLabelValues(status).Inc()
	if processed > 0 {
		m.dispatchDuration.Observe(duration.Seconds())
	}
}
