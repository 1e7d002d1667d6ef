// Package metrics holds the Prometheus collectors for classification runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// Source outcome labels.
const (
	OutcomeSuggested = "suggested"
	OutcomeAbstained = "abstained"
	OutcomeFailed    = "failed"
)

// Retrain result labels.
const (
	RetrainSwapped   = "swapped"
	RetrainUnchanged = "unchanged"
	RetrainSkipped   = "skipped"
	RetrainFailed    = "failed"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookkeeper_decisions_total",
		Help: "Ensemble decisions by status",
	}, []string{"status"})

	sourceOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookkeeper_source_outcomes_total",
		Help: "Per-source classification outcomes",
	}, []string{"source", "outcome"})

	sourceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookkeeper_source_duration_seconds",
		Help:    "Per-source classification latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
	}, []string{"source"})

	retrainTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookkeeper_retrain_total",
		Help: "Statistical model retrain attempts by result",
	}, []string{"result"})
)

// ObserveOutcome records one source's result for one transaction.
func ObserveOutcome(o model.SourceOutcome) {
	outcome := OutcomeSuggested
	switch {
	case o.Failed():
		outcome = OutcomeFailed
	case o.Abstained():
		outcome = OutcomeAbstained
	}
	sourceOutcomesTotal.WithLabelValues(string(o.Source), outcome).Inc()
	sourceDuration.WithLabelValues(string(o.Source)).Observe(o.Duration.Seconds())
}

// ObserveDecision records one ensemble decision.
func ObserveDecision(d model.EnsembleDecision) {
	decisionsTotal.WithLabelValues(string(d.Status)).Inc()
}

// ObserveRetrain records one retrain attempt.
func ObserveRetrain(result string) {
	retrainTotal.WithLabelValues(result).Inc()
}
