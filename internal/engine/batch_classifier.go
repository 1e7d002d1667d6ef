package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// Result is the engine's output for one transaction.
type Result struct {
	Transaction  model.Transaction
	Features     model.FeatureBundle
	Decision     model.EnsembleDecision
	AutoAccepted bool
}

// Diagnostic records a transaction that was skipped because no feature bundle could be built.
type Diagnostic struct {
	Err           error
	TransactionID string
	Index         int
}

// BatchClassificationSummary contains statistics about the batch run.
type BatchClassificationSummary struct {
	SourceFailures    map[model.Source]int
	TotalTransactions int
	SuggestedCount    int
	NoSuggestionCount int
	AutoAcceptedCount int
	ConflictCount     int
	SkippedCount      int
	ProcessingTime    time.Duration
}

// BatchResult holds every decision of a run, in input order, plus skipped transactions.
type BatchResult struct {
	Results     []Result
	Diagnostics []Diagnostic
	Summary     BatchClassificationSummary
}

// ProgressFunc is called after each transaction with the number done so far.
type ProgressFunc func(done, total int)

// Run classifies txns with a bounded worker pool. A structurally malformed transaction is
// skipped with a diagnostic; it never aborts the batch. Cancelling ctx stops scheduling new
// work and returns what finished together with ctx's error.
func (e *ClassificationEngine) Run(ctx context.Context, txns []model.Transaction, history *features.History, progress ProgressFunc) (*BatchResult, error) {
	startTime := time.Now()

	e.logger.Info("Starting batch classification",
		"total_transactions", len(txns),
		"workers", e.opts.Workers,
		"sources", len(e.sources))

	slots := make([]*Result, len(txns))
	var (
		mu          sync.Mutex
		diagnostics []Diagnostic
		done        int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, txn := range txns {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			result, err := e.Decide(gCtx, txn, history)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("Skipping malformed transaction",
					"transaction_id", txn.ID,
					"index", i,
					"error", err)
				diagnostics = append(diagnostics, Diagnostic{Index: i, TransactionID: txn.ID, Err: err})
			} else {
				slots[i] = &result
			}
			done++
			if progress != nil {
				progress(done, len(txns))
			}
			return nil
		})
	}

	waitErr := g.Wait()

	out := &BatchResult{
		Results: make([]Result, 0, len(txns)),
		Summary: BatchClassificationSummary{
			TotalTransactions: len(txns),
			SourceFailures:    make(map[model.Source]int),
		},
	}
	for _, r := range slots {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, *r)
		out.Summary.add(*r)
	}
	sortDiagnostics(diagnostics)
	out.Diagnostics = diagnostics
	out.Summary.SkippedCount = len(diagnostics)
	out.Summary.ProcessingTime = time.Since(startTime)

	e.logger.Info("Batch classification finished",
		"suggested", out.Summary.SuggestedCount,
		"no_suggestion", out.Summary.NoSuggestionCount,
		"auto_accepted", out.Summary.AutoAcceptedCount,
		"conflicts", out.Summary.ConflictCount,
		"skipped", out.Summary.SkippedCount,
		"duration", out.Summary.ProcessingTime)

	if waitErr != nil {
		return out, waitErr
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (s *BatchClassificationSummary) add(r Result) {
	if r.Decision.HasSuggestion() {
		s.SuggestedCount++
	} else {
		s.NoSuggestionCount++
	}
	if r.AutoAccepted {
		s.AutoAcceptedCount++
	}
	if r.Decision.Agreement == model.AgreementConflict {
		s.ConflictCount++
	}
	for _, f := range r.Decision.Failures {
		s.SourceFailures[f.Source]++
	}
}

func sortDiagnostics(d []Diagnostic) {
	sort.Slice(d, func(i, j int) bool { return d[i].Index < d[j].Index })
}
