package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// RetrainResult describes one retraining attempt.
type RetrainResult struct {
	Fingerprint string
	Examples    int
	Categories  int
	Duration    time.Duration
	Swapped     bool // false when the corpus matched the active model
}

// Handle holds the active model generation. Readers always observe a complete model, and
// a retrain never blocks Classify.
type Handle struct {
	active     atomic.Pointer[Model]
	logger     *slog.Logger
	minCorpus  int
	retrainMu  sync.Mutex
	generation atomic.Int64
}

// NewHandle returns an untrained handle. Corpora smaller than minCorpus are rejected.
func NewHandle(minCorpus int, logger *slog.Logger) *Handle {
	if minCorpus < 1 {
		minCorpus = 1
	}
	return &Handle{minCorpus: minCorpus, logger: common.OrDefault(logger)}
}

// Source implements service.Classifier.
func (h *Handle) Source() model.Source {
	return model.SourceStatistical
}

// Active returns the current model, or nil while untrained.
func (h *Handle) Active() *Model {
	return h.active.Load()
}

// Generation counts successful swaps.
func (h *Handle) Generation() int64 {
	return h.generation.Load()
}

// Swap installs m as the active model.
func (h *Handle) Swap(m *Model) {
	if m == nil {
		return
	}
	h.active.Store(m)
	h.generation.Add(1)
}

// Classify predicts from the active model. It abstains while no model has been trained
// or when the prediction is empty.
func (h *Handle) Classify(ctx context.Context, in service.Input) (model.CategorySuggestion, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.CategorySuggestion{}, false, err
	}

	m := h.active.Load()
	if m == nil {
		return model.CategorySuggestion{}, false, nil
	}

	pred := m.Predict(in.Features)
	if pred.Category == "" {
		return model.CategorySuggestion{}, false, nil
	}

	category := pred.Category
	if in.Taxonomy != nil {
		if canonical, ok := in.Taxonomy.Canonical(category); ok {
			category = canonical
		}
	}

	return model.CategorySuggestion{
		Category:   category,
		Confidence: pred.Prob,
		Source:     model.SourceStatistical,
		Rationale:  fmt.Sprintf("naive bayes posterior %.2f over %d examples", pred.Prob, m.Examples()),
	}, true, nil
}

// Retrain fits a new model on corpus and swaps it in. On failure the previous model stays
// active. Retraining on the corpus the active model was built from is a no-op.
func (h *Handle) Retrain(ctx context.Context, corpus model.TrainingCorpus) (RetrainResult, error) {
	h.retrainMu.Lock()
	defer h.retrainMu.Unlock()

	start := time.Now()
	result := RetrainResult{Examples: corpus.Len()}

	if corpus.Len() < h.minCorpus {
		return result, fmt.Errorf("%w: %d examples, need %d", common.ErrCorpusTooSmall, corpus.Len(), h.minCorpus)
	}

	fingerprint := corpus.Fingerprint()
	result.Fingerprint = fingerprint
	if current := h.active.Load(); current != nil && current.Fingerprint() == fingerprint {
		result.Categories = len(current.Categories())
		result.Duration = time.Since(start)
		h.logger.Debug("Corpus unchanged, keeping active model", "fingerprint", fingerprint[:12])
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	m, err := Train(corpus)
	if err != nil {
		if errors.Is(err, common.ErrCorpusTooSmall) {
			h.logger.Info("Corpus too small to retrain", "examples", corpus.Len())
		}
		return result, err
	}

	// A retrain that was cancelled while fitting must not replace the model.
	if err := ctx.Err(); err != nil {
		return result, err
	}

	h.Swap(m)
	result.Categories = len(m.Categories())
	result.Swapped = true
	result.Duration = time.Since(start)

	h.logger.Info("Statistical model retrained",
		"examples", result.Examples,
		"categories", result.Categories,
		"generation", h.generation.Load(),
		"duration", result.Duration)

	return result, nil
}
