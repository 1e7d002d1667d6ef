// Package engine implements the core classification pipeline: feature extraction, fan-out to
// every classifier source, and the ensemble join.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/ensemble"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/metrics"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// Options configures the engine.
type Options struct {
	Logger              *slog.Logger
	Workers             int     // transactions classified concurrently
	AutoAcceptThreshold float64 // decisions at or above this confidence are marked auto-accepted
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Workers:             4,
		AutoAcceptThreshold: 0.9,
	}
}

// ClassificationEngine orchestrates the classification of transactions.
type ClassificationEngine struct {
	extractor *features.Extractor
	combiner  *ensemble.Combiner
	taxonomy  *model.Taxonomy
	logger    *slog.Logger
	sources   []service.Classifier
	opts      Options
}

// New creates an engine. Every source must carry a distinct, non-empty tag.
func New(extractor *features.Extractor, combiner *ensemble.Combiner, taxonomy *model.Taxonomy, sources []service.Classifier, opts Options) (*ClassificationEngine, error) {
	if extractor == nil || combiner == nil {
		return nil, fmt.Errorf("%w: engine needs an extractor and a combiner", common.ErrMissingConfig)
	}

	seen := make(map[model.Source]bool, len(sources))
	for _, src := range sources {
		tag := src.Source()
		if tag == "" || tag == model.SourceEnsemble {
			return nil, fmt.Errorf("%w: %q", common.ErrUnknownSource, tag)
		}
		if seen[tag] {
			return nil, fmt.Errorf("%w: source %q registered twice", common.ErrInvalidConfig, tag)
		}
		seen[tag] = true
	}

	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}

	return &ClassificationEngine{
		extractor: extractor,
		combiner:  combiner,
		taxonomy:  taxonomy,
		sources:   sources,
		logger:    common.OrDefault(opts.Logger),
		opts:      opts,
	}, nil
}

// Taxonomy returns the category set decisions are validated against.
func (e *ClassificationEngine) Taxonomy() *model.Taxonomy {
	return e.taxonomy
}

// Input extracts the feature bundle for txn and packages it for the classifiers.
func (e *ClassificationEngine) Input(txn model.Transaction, history *features.History) (service.Input, error) {
	bundle, err := e.extractor.Extract(txn, history)
	if err != nil {
		return service.Input{}, err
	}
	return service.Input{Taxonomy: e.taxonomy, Transaction: txn, Features: bundle}, nil
}

// Decide classifies one transaction. The only error is a structural extraction failure;
// source failures are folded into the decision.
func (e *ClassificationEngine) Decide(ctx context.Context, txn model.Transaction, history *features.History) (Result, error) {
	in, err := e.Input(txn, history)
	if err != nil {
		return Result{}, err
	}

	decision := e.combine(ctx, in)
	return Result{
		Transaction:  txn,
		Features:     in.Features,
		Decision:     decision,
		AutoAccepted: decision.HasSuggestion() && decision.Confidence >= e.opts.AutoAcceptThreshold,
	}, nil
}

// Source implements service.Classifier: the ensemble is one more classifier to the
// evaluation harness.
func (e *ClassificationEngine) Source() model.Source {
	return model.SourceEnsemble
}

// Classify implements service.Classifier.
func (e *ClassificationEngine) Classify(ctx context.Context, in service.Input) (model.CategorySuggestion, bool, error) {
	if in.Taxonomy == nil {
		in.Taxonomy = e.taxonomy
	}
	s, ok := e.combine(ctx, in).Suggestion()
	return s, ok, nil
}

func (e *ClassificationEngine) combine(ctx context.Context, in service.Input) model.EnsembleDecision {
	outcomes := e.collect(ctx, in)
	decision := e.combiner.Combine(in.Transaction.ID, outcomes)
	metrics.ObserveDecision(decision)
	return decision
}

// collect runs every source concurrently and waits for all of them. Nothing is returned
// until each source has resolved, failed, or timed out.
func (e *ClassificationEngine) collect(ctx context.Context, in service.Input) []model.SourceOutcome {
	outcomes := make([]model.SourceOutcome, len(e.sources))

	var g errgroup.Group
	for i, src := range e.sources {
		g.Go(func() error {
			outcomes[i] = e.run(ctx, src, in)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// run calls one source and validates what it returns.
func (e *ClassificationEngine) run(ctx context.Context, src service.Classifier, in service.Input) (outcome model.SourceOutcome) {
	outcome.Source = src.Source()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome.Suggestion = nil
			outcome.Err = fmt.Errorf("%w: source panicked: %v", common.ErrTransient, r)
		}
		outcome.Duration = time.Since(start)
		e.logOutcome(in.Transaction.ID, outcome)
		metrics.ObserveOutcome(outcome)
	}()

	s, ok, err := src.Classify(ctx, in)
	switch {
	case err != nil:
		if !common.IsSourceFailure(err) {
			err = fmt.Errorf("%w: %w", common.ErrTransient, err)
		}
		outcome.Err = err
	case ok:
		s.Source = outcome.Source
		if vErr := e.validate(&s); vErr != nil {
			outcome.Err = vErr
			return outcome
		}
		outcome.Suggestion = &s
	}
	return outcome
}

// validate rejects suggestions outside the taxonomy or with an unusable confidence, and
// rewrites the category to the taxonomy's spelling.
func (e *ClassificationEngine) validate(s *model.CategorySuggestion) error {
	if math.IsNaN(s.Confidence) || math.IsInf(s.Confidence, 0) {
		return fmt.Errorf("%w: %s returned confidence %v", common.ErrMalformedResponse, s.Source, s.Confidence)
	}
	if e.taxonomy == nil || e.taxonomy.Len() == 0 {
		return nil
	}
	canonical, ok := e.taxonomy.Canonical(s.Category)
	if !ok {
		return fmt.Errorf("%w: %s suggested %q which is not in the taxonomy", common.ErrMalformedResponse, s.Source, s.Category)
	}
	s.Category = canonical
	return nil
}

func (e *ClassificationEngine) logOutcome(transactionID string, o model.SourceOutcome) {
	switch {
	case o.Failed():
		e.logger.Warn("Classifier source failed",
			"transaction_id", transactionID,
			"source", o.Source,
			"timeout", errors.Is(o.Err, context.DeadlineExceeded),
			"error", o.Err)
	case o.Abstained():
		e.logger.Debug("Classifier source abstained",
			"transaction_id", transactionID,
			"source", o.Source)
	default:
		e.logger.Debug("Classifier source suggested",
			"transaction_id", transactionID,
			"source", o.Source,
			"category", o.Suggestion.Category,
			"confidence", o.Suggestion.Confidence,
			"duration", o.Duration)
	}
}
