// Package service defines the contracts shared between the classification components.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// Input is everything a classifier may look at for one transaction. Rule and statistical
// classifiers read Features; the LLM classifier additionally reads the raw Transaction and
// the Taxonomy.
type Input struct {
	Taxonomy    *model.Taxonomy
	Transaction model.Transaction
	Features    model.FeatureBundle
}

// Classifier is the single capability every source implements. ok=false with a nil error is
// an abstention. A non-nil error is a source failure that the caller degrades to absence.
type Classifier interface {
	Classify(ctx context.Context, in Input) (suggestion model.CategorySuggestion, ok bool, err error)
	Source() model.Source
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc struct {
	Fn  func(ctx context.Context, in Input) (model.CategorySuggestion, bool, error)
	Tag model.Source
}

// Classify calls f.Fn.
func (f ClassifierFunc) Classify(ctx context.Context, in Input) (model.CategorySuggestion, bool, error) {
	return f.Fn(ctx, in)
}

// Source returns f.Tag.
func (f ClassifierFunc) Source() model.Source {
	return f.Tag
}

// CorrectionStore is the append-only log behind the learning loop.
type CorrectionStore interface {
	AppendCorrection(ctx context.Context, correction *model.Correction) error
	ListCorrections(ctx context.Context) ([]model.Correction, error)
}

// SnapshotStore persists the corpus of the last successful retrain so a restarted process
// can restore the active model without replaying the log.
type SnapshotStore interface {
	// SaveSnapshot assigns the next version, which outranks every version saved before,
	// and returns it. Any Version set on snapshot is ignored.
	SaveSnapshot(ctx context.Context, snapshot ModelSnapshot) (int64, error)
	LatestSnapshot(ctx context.Context) (*ModelSnapshot, error)
}

// ModelSnapshot describes one trained model generation.
type ModelSnapshot struct {
	TrainedAt   time.Time            `json:"trained_at"`
	Fingerprint string               `json:"fingerprint"`
	Corpus      model.TrainingCorpus `json:"corpus"`
	Version     int64                `json:"version"`
}

// RetrainRun is one audited retrain attempt.
type RetrainRun struct {
	CreatedAt   time.Time
	Result      string
	Fingerprint string
	Examples    int
	Categories  int
}

// RetrainLog keeps an audit trail of retrain attempts.
type RetrainLog interface {
	RecordRetrain(ctx context.Context, run RetrainRun) error
	ListRetrains(ctx context.Context, limit int) ([]RetrainRun, error)
}

// TransactionFilter restricts which transactions a reader returns.
type TransactionFilter struct {
	StartDate    *time.Time
	EndDate      *time.Time
	AccountTypes []string
}

// TransactionSource is the reader collaborator.
type TransactionSource interface {
	ReadTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	Categories(ctx context.Context) ([]string, error)
}

// CategoryWriter is the writer collaborator. It alone persists accepted categories.
type CategoryWriter interface {
	UpdateCategories(ctx context.Context, updates map[string]string) (map[string]bool, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
