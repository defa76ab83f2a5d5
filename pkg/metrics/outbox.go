package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish results.
const (
	PublishPublished    = "published"
	PublishRetry        = "retry"
	PublishDeadLettered = "dead_lettered"
)

// OutboxMetrics counts publisher outcomes per event type.
type OutboxMetrics struct {
	results *prometheus.CounterVec
	batch   prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Outbox rows handled by the publisher, by event type and result.",
		}, []string{"event_type", "result"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_size",
			Help:      "Rows claimed per publisher batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.results, m.batch)
	return m
}

func (m *OutboxMetrics) IncResult(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(size))
}
