package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "edi"

// CronJobMetrics records outcomes of scheduled jobs, labelled by job name.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

const (
	runSuccess = "success"
	runFailure = "failure"
)

// NewCronJobMetrics registers on reg. With a nil registerer the collectors
// still work but are never exported.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	factory := promauto.With(reg)
	return &CronJobMetrics{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of cron jobs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Cron job executions by outcome.",
		}, []string{"job", "outcome"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "skipped_total",
			Help:      "Cron cycles skipped because another instance held the lease.",
		}, []string{"job"}),
	}
}

func (c *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if c != nil {
		c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
	}
}

func (c *CronJobMetrics) IncSuccess(job string) {
	if c != nil {
		c.runs.WithLabelValues(normalizeLabel(job), runSuccess).Inc()
	}
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c != nil {
		c.runs.WithLabelValues(normalizeLabel(job), runFailure).Inc()
	}
}

// IncSkipped counts a cycle lost to another lease holder.
func (c *CronJobMetrics) IncSkipped(job string) {
	if c != nil {
		c.skipped.WithLabelValues(normalizeLabel(job)).Inc()
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
