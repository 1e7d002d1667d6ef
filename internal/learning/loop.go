package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/metrics"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
	"github.com/Veraticus/bookkeeper/internal/stats"
)

// LoopOptions configures the retrain cadence.
type LoopOptions struct {
	Snapshots    service.SnapshotStore // optional
	History      service.RetrainLog    // optional
	Logger       *slog.Logger
	RetrainEvery int // corrections between automatic retrains; 0 disables automatic retraining
}

// Loop ties the tracker to the statistical model: corrections are appended first, and
// retraining reads a fresh projection afterwards.
type Loop struct {
	tracker      *Tracker
	handle       *stats.Handle
	snapshots    service.SnapshotStore
	history      service.RetrainLog
	logger       *slog.Logger
	retrainEvery int
	pending      int
	mu           sync.Mutex
}

// RecordOutcome reports what Record did.
type RecordOutcome struct {
	RetrainErr error // ErrCorpusTooSmall when the retrain was skipped
	Correction model.Correction
	Retrain    stats.RetrainResult
	Retrained  bool
}

// NewLoop wires a tracker to a model handle.
func NewLoop(tracker *Tracker, handle *stats.Handle, opts LoopOptions) *Loop {
	return &Loop{
		tracker:      tracker,
		handle:       handle,
		snapshots:    opts.Snapshots,
		history:      opts.History,
		retrainEvery: opts.RetrainEvery,
		logger:       common.OrDefault(opts.Logger),
	}
}

// Tracker returns the underlying tracker.
func (l *Loop) Tracker() *Tracker {
	return l.tracker
}

// Record appends a correction and retrains when the cadence is due. A failed retrain does
// not undo the append; it is reported in the outcome.
func (l *Loop) Record(ctx context.Context, transactionID, suggested, final string, features model.FeatureBundle) (RecordOutcome, error) {
	c, err := l.tracker.Record(ctx, transactionID, suggested, final, features)
	if err != nil {
		return RecordOutcome{}, err
	}
	out := RecordOutcome{Correction: c}

	l.mu.Lock()
	l.pending++
	due := l.retrainEvery > 0 && l.pending >= l.retrainEvery
	l.mu.Unlock()

	if !due {
		return out, nil
	}

	out.Retrained = true
	out.Retrain, out.RetrainErr = l.Retrain(ctx)
	return out, nil
}

// Retrain rebuilds the corpus and retrains the model. On success the trained corpus is
// snapshotted so a restart can restore the same model.
func (l *Loop) Retrain(ctx context.Context) (stats.RetrainResult, error) {
	l.mu.Lock()
	l.pending = 0
	l.mu.Unlock()

	corpus, err := l.tracker.BuildCorpus(ctx)
	if err != nil {
		l.observe(ctx, metrics.RetrainFailed, stats.RetrainResult{})
		return stats.RetrainResult{}, err
	}

	result, err := l.handle.Retrain(ctx, corpus)
	switch {
	case errors.Is(err, common.ErrCorpusTooSmall):
		l.observe(ctx, metrics.RetrainSkipped, result)
		l.logger.Info("Retrain skipped, keeping current model", "examples", corpus.Len(), "reason", err)
		return result, err
	case err != nil:
		l.observe(ctx, metrics.RetrainFailed, result)
		return result, fmt.Errorf("retrain failed: %w", err)
	case !result.Swapped:
		l.observe(ctx, metrics.RetrainUnchanged, result)
		return result, nil
	}

	l.observe(ctx, metrics.RetrainSwapped, result)
	if l.snapshots != nil {
		snapshot := service.ModelSnapshot{
			TrainedAt:   corpus.BuiltAt,
			Fingerprint: result.Fingerprint,
			Corpus:      corpus,
		}
		version, err := l.snapshots.SaveSnapshot(ctx, snapshot)
		if err != nil {
			// The new model is already active; only persistence failed.
			l.logger.Warn("Failed to save model snapshot", "error", err)
		} else {
			l.logger.Debug("Saved model snapshot", "version", version, "generation", l.handle.Generation())
		}
	}
	return result, nil
}

func (l *Loop) observe(ctx context.Context, outcome string, result stats.RetrainResult) {
	metrics.ObserveRetrain(outcome)
	if l.history == nil {
		return
	}
	run := service.RetrainRun{
		CreatedAt:   l.tracker.now().UTC(),
		Result:      outcome,
		Fingerprint: result.Fingerprint,
		Examples:    result.Examples,
		Categories:  result.Categories,
	}
	if err := l.history.RecordRetrain(ctx, run); err != nil {
		l.logger.Warn("Failed to record retrain run", "result", outcome, "error", err)
	}
}

// Restore trains the model from the latest snapshot, if any. It returns false when there is
// nothing to restore.
func (l *Loop) Restore(ctx context.Context) (bool, error) {
	if l.snapshots == nil {
		return false, nil
	}

	snapshot, err := l.snapshots.LatestSnapshot(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load model snapshot: %w", err)
	}

	if _, err := l.handle.Retrain(ctx, snapshot.Corpus); err != nil {
		return false, fmt.Errorf("failed to restore model from snapshot %d: %w", snapshot.Version, err)
	}

	l.logger.Info("Statistical model restored",
		"version", snapshot.Version,
		"examples", snapshot.Corpus.Len(),
		"trained_at", snapshot.TrainedAt)
	return true, nil
}
