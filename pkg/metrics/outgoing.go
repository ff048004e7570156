package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	CloseReasonCap    = "cap"
	CloseReasonWindow = "window"
)

// OutgoingMetrics tracks the enqueue, bundle and peek/dequeue flow.
type OutgoingMetrics struct {
	enqueued      *prometheus.CounterVec
	bundlesClosed *prometheus.CounterVec
	conflicts     prometheus.Counter
	peeks         *prometheus.CounterVec
	dequeues      *prometheus.CounterVec
	documentBytes prometheus.Histogram
}

// NewOutgoingMetrics registers the outgoing message metrics on reg. A nil
// registerer yields a no-op recorder.
func NewOutgoingMetrics(reg prometheus.Registerer) *OutgoingMetrics {
	if reg == nil {
		return &OutgoingMetrics{}
	}
	m := &OutgoingMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Outgoing messages recorded, by document type.",
		}, []string{"document_type"}),
		bundlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_closed_total",
			Help:      "Bundles closed, by reason (cap or window).",
		}, []string{"reason"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "open_bundle_conflicts_total",
			Help:      "Retried transactions caused by concurrent open bundle creation.",
		}),
		peeks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peeks_total",
			Help:      "Peek calls, by category and result.",
		}, []string{"category", "result"}),
		dequeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dequeues_total",
			Help:      "Dequeue calls, by status.",
		}, []string{"status"}),
		documentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "peek_document_bytes",
			Help:      "Size of rendered bundle documents.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
	reg.MustRegister(m.enqueued, m.bundlesClosed, m.conflicts, m.peeks, m.dequeues, m.documentBytes)
	return m
}

func (m *OutgoingMetrics) IncEnqueued(documentType string) {
	if m == nil || m.enqueued == nil {
		return
	}
	m.enqueued.WithLabelValues(normalizeLabel(documentType)).Inc()
}

func (m *OutgoingMetrics) AddBundlesClosed(reason string, n int) {
	if m == nil || m.bundlesClosed == nil || n <= 0 {
		return
	}
	m.bundlesClosed.WithLabelValues(normalizeLabel(reason)).Add(float64(n))
}

func (m *OutgoingMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *OutgoingMetrics) IncPeek(category, result string) {
	if m == nil || m.peeks == nil {
		return
	}
	m.peeks.WithLabelValues(normalizeLabel(category), normalizeLabel(result)).Inc()
}

func (m *OutgoingMetrics) IncDequeue(status string) {
	if m == nil || m.dequeues == nil {
		return
	}
	m.dequeues.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *OutgoingMetrics) ObserveDocumentSize(bytes int) {
	if m == nil || m.documentBytes == nil {
		return
	}
	m.documentBytes.Observe(float64(bytes))
}
