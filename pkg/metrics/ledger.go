package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records issuance and reconciliation outcomes.
type LedgerMetrics struct {
	submissions    *prometheus.CounterVec
	inclusionTime  *prometheus.HistogramVec
	partialFailure prometheus.Counter
	reconciled     *prometheus.CounterVec
	degradedWrites prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_submissions_total",
		Help: "Submitted ledger calls by kind and outcome.",
	}, []string{"kind", "outcome"})
	inclusionTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_inclusion_seconds",
		Help:    "Time from submission to observed inclusion.",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 180},
	}, []string{"kind"})
	partialFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_partial_failures_total",
		Help: "Ledger writes confirmed without a matching record-store write.",
	})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_repairs_total",
		Help: "Records repaired by the reconciler, by source.",
	}, []string{"source"})
	degradedWrites := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_store_degraded_writes_total",
		Help: "Documents stored with a local digest because the content store was unreachable.",
	})
	reg.MustRegister(submissions, inclusionTime, partialFailure, reconciled, degradedWrites)
	return &LedgerMetrics{
		submissions:    submissions,
		inclusionTime:  inclusionTime,
		partialFailure: partialFailure,
		reconciled:     reconciled,
		degradedWrites: degradedWrites,
	}
}

// IncSubmission counts one submitted call by kind ("issue"/"revoke") and outcome.
func (m *LedgerMetrics) IncSubmission(kind, outcome string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(kind, outcome).Inc()
}

// ObserveInclusion records the submission-to-inclusion latency for a kind.
func (m *LedgerMetrics) ObserveInclusion(kind string, d time.Duration) {
	if m == nil || m.inclusionTime == nil {
		return
	}
	m.inclusionTime.WithLabelValues(kind).Observe(d.Seconds())
}

// IncPartialFailure counts a confirmed ledger write the store missed.
func (m *LedgerMetrics) IncPartialFailure() {
	if m == nil || m.partialFailure == nil {
		return
	}
	m.partialFailure.Inc()
}

// IncReconciled counts one repaired record by source ("listener"/"sweep").
func (m *LedgerMetrics) IncReconciled(source string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(source).Inc()
}

// IncDegradedWrite counts one fallback content-store write.
func (m *LedgerMetrics) IncDegradedWrite() {
	if m == nil || m.degradedWrites == nil {
		return
	}
	m.degradedWrites.Inc()
}
