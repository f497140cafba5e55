package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics tracks the batch journal sitting beside the engine. Journal
// writes happen off the commit path, so failures surface here rather than as
// operation errors.
type AuditMetrics struct {
	journalled *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    prometheus.Histogram
}

var (
	auditOnce     sync.Once
	auditRegistry *AuditMetrics
)

func Audit() *AuditMetrics {
	auditOnce.Do(func() {
		auditRegistry = &AuditMetrics{
			journalled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "omnivault_audit_batches_journalled_total",
				Help: "Count of batches written to the audit journal by status.",
			}, []string{"status"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "omnivault_audit_journal_failures_total",
				Help: "Count of failed journal writes by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "omnivault_audit_journal_write_seconds",
				Help:    "Latency distribution for journal writes.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			auditRegistry.journalled,
			auditRegistry.failures,
			auditRegistry.latency,
		)
	})
	return auditRegistry
}

func (m *AuditMetrics) ObserveJournalled(status string, d time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.journalled.WithLabelValues(status).Inc()
	m.latency.Observe(d.Seconds())
}

func (m *AuditMetrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *AuditMetrics) InitStatus(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.journalled.WithLabelValues(status).Add(0)
}
