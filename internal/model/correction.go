package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// Correction is one human decision at the review boundary. Corrections form an append-only
// log; a later correction for the same transaction supersedes earlier ones in every derived
// view, but never rewrites them.
type Correction struct {
	RecordedAt        time.Time     `json:"recorded_at"`
	ID                string        `json:"id"`
	TransactionID     string        `json:"transaction_id"`
	SuggestedCategory string        `json:"suggested_category"`
	FinalCategory     string        `json:"final_category"`
	Features          FeatureBundle `json:"features"`
	Sequence          int64         `json:"sequence"`
}

// Accepted reports whether the human confirmed the suggestion.
func (c Correction) Accepted() bool {
	return c.SuggestedCategory != "" && SameCategory(c.SuggestedCategory, c.FinalCategory)
}

// TrainingExample is one labeled feature bundle.
type TrainingExample struct {
	LabeledAt     time.Time     `json:"labeled_at"`
	TransactionID string        `json:"transaction_id"`
	Category      string        `json:"category"`
	Features      FeatureBundle `json:"features"`
}

// TrainingCorpus is the statistical classifier's retrain input.
type TrainingCorpus struct {
	BuiltAt  time.Time         `json:"built_at"`
	Examples []TrainingExample `json:"examples"`
}

// Len returns the number of examples.
func (c TrainingCorpus) Len() int {
	return len(c.Examples)
}

// Categories returns the distinct labels, by CategoryKey, in sorted order of first spelling.
func (c TrainingCorpus) Categories() []string {
	seen := make(map[string]string)
	for _, ex := range c.Examples {
		key := CategoryKey(ex.Category)
		if _, ok := seen[key]; !ok {
			seen[key] = ex.Category
		}
	}
	cats := make([]string, 0, len(seen))
	for _, c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Fingerprint identifies the corpus content independent of example order and build time.
func (c TrainingCorpus) Fingerprint() string {
	lines := make([]string, 0, len(c.Examples))
	for _, ex := range c.Examples {
		lines = append(lines, fmt.Sprintf("%s|%s|%v", ex.TransactionID, CategoryKey(ex.Category), ex.Features.Terms()))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
