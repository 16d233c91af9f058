package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConfidenceScore tracks the distribution of step confidence scores.
	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nbpilot",
			Subsystem: "verifier",
			Name:      "confidence_score",
			Help:      "Confidence score of verified steps",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 0.95, 1},
		},
	)

	// RecommendationsTotal counts verifications by recommendation.
	// Labels: recommendation (proceed, warning, replan, escalate)
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nbpilot",
			Subsystem: "verifier",
			Name:      "recommendations_total",
			Help:      "Total number of verifications by recommendation",
		},
		[]string{"recommendation"},
	)

	// MismatchesTotal counts mismatches.
	// Labels: type, severity
	MismatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nbpilot",
			Subsystem: "verifier",
			Name:      "mismatches_total",
			Help:      "Total number of state mismatches detected",
		},
		[]string{"type", "severity"},
	)
)

func observe(r *Result) {
	ConfidenceScore.Observe(r.Confidence)
	RecommendationsTotal.WithLabelValues(string(r.Recommendation)).Inc()
	for _, m := range r.Mismatches {
		MismatchesTotal.WithLabelValues(string(m.Type), string(m.Severity)).Inc()
	}
}
