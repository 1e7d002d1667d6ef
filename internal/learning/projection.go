package learning

import (
	"sort"
	"time"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// RetentionPolicy bounds the corpus handed to retraining. Zero values mean unbounded.
type RetentionPolicy struct {
	MaxExamples int
	MaxAge      time.Duration
}

// LatestByTransaction folds the log down to the newest correction per transaction.
func LatestByTransaction(log []model.Correction) map[string]model.Correction {
	latest := make(map[string]model.Correction, len(log))
	for _, c := range log {
		prev, ok := latest[c.TransactionID]
		if !ok || newer(c, prev) {
			latest[c.TransactionID] = c
		}
	}
	return latest
}

func newer(a, b model.Correction) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.RecordedAt.After(b.RecordedAt)
}

// Project derives the training corpus from the correction log and seed labels. It is a pure
// function of its inputs: the latest correction per transaction wins, a correction replaces
// a seed for the same transaction, and the retention policy is applied last. Seeds without a
// timestamp never age out.
func Project(log []model.Correction, seeds []model.TrainingExample, policy RetentionPolicy, now time.Time) model.TrainingCorpus {
	examples := make(map[string]model.TrainingExample, len(seeds)+len(log))
	for _, seed := range seeds {
		if seed.TransactionID == "" || model.CategoryKey(seed.Category) == "" {
			continue
		}
		examples[seed.TransactionID] = seed
	}

	for id, c := range LatestByTransaction(log) {
		if model.CategoryKey(c.FinalCategory) == "" {
			continue
		}
		features := c.Features
		features.TransactionID = id
		examples[id] = model.TrainingExample{
			TransactionID: id,
			Category:      c.FinalCategory,
			Features:      features,
			LabeledAt:     c.RecordedAt,
		}
	}

	kept := make([]model.TrainingExample, 0, len(examples))
	for _, ex := range examples {
		if policy.MaxAge > 0 && !ex.LabeledAt.IsZero() && now.Sub(ex.LabeledAt) > policy.MaxAge {
			continue
		}
		kept = append(kept, ex)
	}

	if policy.MaxExamples > 0 && len(kept) > policy.MaxExamples {
		sort.Slice(kept, func(i, j int) bool {
			if !kept[i].LabeledAt.Equal(kept[j].LabeledAt) {
				return kept[i].LabeledAt.After(kept[j].LabeledAt)
			}
			return kept[i].TransactionID < kept[j].TransactionID
		})
		kept = kept[:policy.MaxExamples]
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].TransactionID < kept[j].TransactionID
	})

	return model.TrainingCorpus{BuiltAt: now, Examples: kept}
}
