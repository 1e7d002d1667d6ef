// Package model defines the core domain models used throughout the application.
package model

import "time"

// Source tags which classifier produced a suggestion.
type Source string

// Classifier sources.
const (
	SourceRule        Source = "rule"
	SourceStatistical Source = "statistical"
	SourceLLM         Source = "llm"
	SourceEnsemble    Source = "ensemble"
)

// CategorySuggestion is one classifier's opinion about a transaction.
type CategorySuggestion struct {
	Category   string  `json:"category"`
	Source     Source  `json:"source"`
	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence"`
}

// SourceOutcome is what one source resolved to for one transaction. A nil Suggestion with a
// nil Err is an abstention.
type SourceOutcome struct {
	Err        error
	Suggestion *CategorySuggestion
	Source     Source
	Duration   time.Duration
}

// Abstained reports whether the source declined to answer.
func (o SourceOutcome) Abstained() bool {
	return o.Suggestion == nil && o.Err == nil
}

// Failed reports whether the source errored.
func (o SourceOutcome) Failed() bool {
	return o.Err != nil
}

// DecisionStatus tells the review boundary whether a suggestion exists.
type DecisionStatus string

// Decision status constants.
const (
	StatusSuggested    DecisionStatus = "suggested"
	StatusNoSuggestion DecisionStatus = "no_suggestion"
)

// Agreement summarizes how the contributing sources related to each other.
type Agreement string

// Agreement constants.
const (
	AgreementNone       Agreement = "none"        // nothing contributed
	AgreementSingle     Agreement = "single"      // exactly one source contributed
	AgreementUnanimous  Agreement = "unanimous"   // every contributing source named the winner
	AgreementMajority   Agreement = "majority"    // the winner had company, others dissented
	AgreementConflict   Agreement = "conflict"    // no two sources named the same category
	AgreementPrecedence Agreement = "precedence"  // a high-precision rule decided alone
)

// SourceFailure records a source that failed for a transaction, for the audit trail.
type SourceFailure struct {
	Source Source `json:"source"`
	Reason string `json:"reason"`
}

// EnsembleDecision is the single output of the core for one transaction.
type EnsembleDecision struct {
	TransactionID string               `json:"transaction_id"`
	Category      string               `json:"category,omitempty"`
	Status        DecisionStatus       `json:"status"`
	Agreement     Agreement            `json:"agreement"`
	Rationale     string               `json:"rationale"`
	Contributions []CategorySuggestion `json:"contributions"`
	Failures      []SourceFailure      `json:"failures,omitempty"`
	Confidence    float64              `json:"confidence"`
}

// HasSuggestion reports whether the decision names a category.
func (d EnsembleDecision) HasSuggestion() bool {
	return d.Status == StatusSuggested
}

// Suggestion converts the decision into a suggestion tagged as the ensemble's own, so the
// ensemble can be evaluated like any other classifier.
func (d EnsembleDecision) Suggestion() (CategorySuggestion, bool) {
	if !d.HasSuggestion() {
		return CategorySuggestion{}, false
	}
	return CategorySuggestion{
		Category:   d.Category,
		Confidence: d.Confidence,
		Source:     SourceEnsemble,
		Rationale:  d.Rationale,
	}, true
}
