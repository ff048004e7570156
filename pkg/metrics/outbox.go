package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks the outbox relay that forwards bundle events to Pub/Sub.
type RelayMetrics struct {
	published    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	batchSize    prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events delivered to Pub/Sub, by event type.",
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "retries_total",
			Help:      "Failed publish attempts left for a later batch, by event type.",
		}, []string{"event_type"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dead_lettered_total",
			Help:      "Outbox events parked in the DLQ, by reason.",
		}, []string{"reason"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_size",
			Help:      "Rows claimed per relay batch.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.published, m.retried, m.deadLettered, m.batchSize)
	return m
}

func (m *RelayMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *RelayMetrics) IncRetried(eventType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *RelayMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveBatch records how many rows a relay batch claimed, including empty polls.
func (m *RelayMetrics) ObserveBatch(size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}
