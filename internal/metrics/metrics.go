// Package metrics holds the Prometheus collectors of the resolver
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// resolutions counts finished resolutions.
	// Labels: kb, outcome (success or the failing stage)
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrokb",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Total resolutions by knowledge base and outcome",
	}, []string{"kb", "outcome"})

	// resolutionLatency measures end-to-end resolution time.
	// Labels: kb
	resolutionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hydrokb",
		Subsystem: "resolver",
		Name:      "resolution_duration_seconds",
		Help:      "Resolution latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"kb"})

	// candidateGroups tracks how many groups each resolution enumerated.
	// Labels: kb
	candidateGroups = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hydrokb",
		Subsystem: "resolver",
		Name:      "candidate_groups",
		Help:      "Candidate groups enumerated per resolution",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"kb"})

	// groupRejections counts groups discarded during validation.
	// Labels: kb, reason (incompatible, cyclic)
	groupRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrokb",
		Subsystem: "resolver",
		Name:      "group_rejections_total",
		Help:      "Candidate groups rejected by reason",
	}, []string{"kb", "reason"})

	// ruleErrors counts rules that failed to evaluate.
	// Labels: kb, category
	ruleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hydrokb",
		Subsystem: "rules",
		Name:      "evaluation_errors_total",
		Help:      "Rules whose evaluation failed",
	}, []string{"kb", "category"})

	// knowledgeBases reports the number of loaded knowledge bases
	knowledgeBases = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hydrokb",
		Subsystem: "kb",
		Name:      "loaded",
		Help:      "Knowledge bases currently loaded",
	})
)

// RecordResolution records the outcome and latency of one resolution
func RecordResolution(kb, outcome string, durationSec float64) {
	resolutions.WithLabelValues(kb, outcome).Inc()
	resolutionLatency.WithLabelValues(kb).Observe(durationSec)
}

// RecordCandidateGroups records the number of groups a resolution enumerated
func RecordCandidateGroups(kb string, n int) {
	candidateGroups.WithLabelValues(kb).Observe(float64(n))
}

// RecordGroupRejection counts a discarded candidate group
func RecordGroupRejection(kb, reason string) {
	groupRejections.WithLabelValues(kb, reason).Inc()
}

// RecordRuleErrors adds n failed rule evaluations
func RecordRuleErrors(kb, category string, n int) {
	if n > 0 {
		ruleErrors.WithLabelValues(kb, category).Add(float64(n))
	}
}

// SetKnowledgeBases sets the loaded knowledge base gauge
func SetKnowledgeBases(n int) {
	knowledgeBases.Set(float64(n))
}
