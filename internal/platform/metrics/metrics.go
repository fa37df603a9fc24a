package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes counters for every enforcement outcome so operators can
// alert on enforcement spikes without reading the audit log.
type Metrics struct {
	RateLimitRejections *prometheus.CounterVec
	PIIBlocks           prometheus.Counter
	CohortSuppressions  prometheus.Counter
	AuditWriteFailures  prometheus.Counter
	AuditExports        prometheus.Counter
}

// New registers the enforcement metrics on the given registerer. Tests pass
// a fresh prometheus.NewRegistry to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edushield_ratelimit_rejections_total",
			Help: "Total requests rejected by the rate limiter, by profile",
		}, []string{"profile"}),
		PIIBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "edushield_pii_blocks_total",
			Help: "Total analytics responses blocked by the PII guard",
		}),
		CohortSuppressions: factory.NewCounter(prometheus.CounterOpts{
			Name: "edushield_cohort_suppressions_total",
			Help: "Total aggregate rows suppressed for falling below the minimum cohort size",
		}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "edushield_audit_write_failures_total",
			Help: "Total audit events that could not be persisted",
		}),
		AuditExports: factory.NewCounter(prometheus.CounterOpts{
			Name: "edushield_audit_exports_total",
			Help: "Total completed audit log exports",
		}),
	}
}

// RecordRateLimitRejection increments the rejection counter for a profile.
func (m *Metrics) RecordRateLimitRejection(profile string) {
	m.RateLimitRejections.WithLabelValues(profile).Inc()
}

// RecordCohortSuppressions adds n suppressed rows.
func (m *Metrics) RecordCohortSuppressions(n int) {
	m.CohortSuppressions.Add(float64(n))
}
