// Package learning records human review decisions and turns them into training signal for
// the statistical classifier.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Now       func() time.Time
	Logger    *slog.Logger
	Seeds     []model.TrainingExample
	Retention RetentionPolicy
}

// Tracker is the only writer of the correction log.
type Tracker struct {
	store     service.CorrectionStore
	now       func() time.Time
	logger    *slog.Logger
	seeds     []model.TrainingExample
	retention RetentionPolicy
}

// NewTracker wraps store.
func NewTracker(store service.CorrectionStore, opts TrackerOptions) *Tracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:     store,
		seeds:     opts.Seeds,
		retention: opts.Retention,
		now:       now,
		logger:    common.OrDefault(opts.Logger),
	}
}

// Record appends a correction for transactionID. suggested may be empty when the engine had
// no suggestion. Recording the same transaction again supersedes the earlier decision in
// every derived view; the log itself only grows.
func (t *Tracker) Record(ctx context.Context, transactionID, suggested, final string, features model.FeatureBundle) (model.Correction, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return model.Correction{}, fmt.Errorf("%w: transaction id is required", common.ErrInvalidCorrection)
	}
	if model.CategoryKey(final) == "" {
		return model.Correction{}, fmt.Errorf("%w: final category is required for %s", common.ErrInvalidCorrection, transactionID)
	}

	features.TransactionID = transactionID
	c := model.Correction{
		ID:                uuid.NewString(),
		TransactionID:     transactionID,
		SuggestedCategory: strings.TrimSpace(suggested),
		FinalCategory:     strings.TrimSpace(final),
		Features:          features,
		RecordedAt:        t.now().UTC(),
	}

	if err := t.store.AppendCorrection(ctx, &c); err != nil {
		return model.Correction{}, fmt.Errorf("failed to append correction: %w", err)
	}

	t.logger.Info("Correction recorded",
		"transaction_id", transactionID,
		"suggested", c.SuggestedCategory,
		"final", c.FinalCategory,
		"accepted", c.Accepted(),
		"sequence", c.Sequence)

	return c, nil
}

// Corrections returns the raw log.
func (t *Tracker) Corrections(ctx context.Context) ([]model.Correction, error) {
	log, err := t.store.ListCorrections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	return log, nil
}

// Latest returns the newest correction for every transaction.
func (t *Tracker) Latest(ctx context.Context) (map[string]model.Correction, error) {
	log, err := t.Corrections(ctx)
	if err != nil {
		return nil, err
	}
	return LatestByTransaction(log), nil
}

// BuildCorpus projects the current log and seeds into a training corpus.
func (t *Tracker) BuildCorpus(ctx context.Context) (model.TrainingCorpus, error) {
	log, err := t.Corrections(ctx)
	if err != nil {
		return model.TrainingCorpus{}, err
	}
	return Project(log, t.seeds, t.retention, t.now()), nil
}
