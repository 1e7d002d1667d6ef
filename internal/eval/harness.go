// Package eval measures classifier quality against a labeled benchmark set. Any source, or
// the whole ensemble, is evaluated through the same service.Classifier contract.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// LabeledExample is one benchmark transaction with its ground-truth category.
type LabeledExample struct {
	Label       string
	Transaction model.Transaction
}

// Options configures a Harness.
type Options struct {
	Logger  *slog.Logger
	History *features.History // optional; the evaluated transaction is always excluded from it
	Workers int
}

// Harness runs classifiers over labeled sets. It never persists anything.
type Harness struct {
	extractor *features.Extractor
	taxonomy  *model.Taxonomy
	history   *features.History
	logger    *slog.Logger
	workers   int
}

// NewHarness creates a harness. taxonomy may be nil.
func NewHarness(extractor *features.Extractor, taxonomy *model.Taxonomy, opts Options) (*Harness, error) {
	if extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", common.ErrMissingConfig)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Harness{
		extractor: extractor,
		taxonomy:  taxonomy,
		history:   opts.History,
		logger:    common.OrDefault(opts.Logger),
		workers:   workers,
	}, nil
}

// outcome of one example.
type prediction struct {
	label     string
	predicted string
	skipped   bool
	abstained bool
	failed    bool
}

// Evaluate classifies every example and scores the predictions. Per-example failures are
// counted, not returned; only cancellation aborts the run.
func (h *Harness) Evaluate(ctx context.Context, classifier service.Classifier, examples []LabeledExample) (*Report, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", common.ErrMissingConfig)
	}

	start := time.Now()
	preds := make([]prediction, len(examples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, ex := range examples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			preds[i] = h.predict(gctx, classifier, ex)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := score(preds)
	report.Source = classifier.Source()
	report.Duration = time.Since(start)

	h.logger.Info("Evaluation complete",
		"source", report.Source,
		"examples", report.Total,
		"accuracy", fmt.Sprintf("%.3f", report.Accuracy),
		"abstained", report.Abstained,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.Duration)

	return report, nil
}

func (h *Harness) predict(ctx context.Context, classifier service.Classifier, ex LabeledExample) prediction {
	p := prediction{label: h.canonical(ex.Label)}

	bundle, err := h.extractor.Extract(ex.Transaction, h.history)
	if err != nil {
		h.logger.Warn("Skipping benchmark example", "transaction_id", ex.Transaction.ID, "error", err)
		p.skipped = true
		return p
	}

	in := service.Input{Taxonomy: h.taxonomy, Transaction: ex.Transaction, Features: bundle}
	s, ok, err := classifier.Classify(ctx, in)
	switch {
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("Classifier failed on benchmark example",
				"transaction_id", ex.Transaction.ID, "error", err)
		}
		p.failed = true
	case !ok:
		p.abstained = true
	default:
		p.predicted = h.canonical(s.Category)
	}
	return p
}

func (h *Harness) canonical(label string) string {
	if h.taxonomy != nil {
		if c, ok := h.taxonomy.Canonical(label); ok {
			return c
		}
	}
	return label
}
