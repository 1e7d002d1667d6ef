package eval

import (
	"sort"
	"time"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// NoPrediction is the confusion-matrix column for abstentions and failures.
const NoPrediction = "(none)"

// CategoryMetrics scores one category. Precision is 0 when the category was never
// predicted, recall is 0 when it never appears in the labels.
type CategoryMetrics struct {
	Category       string
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Support        int
	Precision      float64
	Recall         float64
	F1             float64
}

// Report is the result of one harness run.
type Report struct {
	Confusion  map[string]map[string]int // label -> predicted -> count
	Source     model.Source
	Categories []CategoryMetrics
	Total      int
	Evaluated  int
	Correct    int
	Abstained  int
	Failed     int
	Skipped    int
	Accuracy   float64 // correct / evaluated; abstentions and failures count as wrong
	Coverage   float64 // share of evaluated examples that received a prediction
	Duration   time.Duration
}

// Metrics returns the metrics for category, if it appeared as a label or a prediction.
func (r *Report) Metrics(category string) (CategoryMetrics, bool) {
	key := model.CategoryKey(category)
	for _, m := range r.Categories {
		if model.CategoryKey(m.Category) == key {
			return m, true
		}
	}
	return CategoryMetrics{}, false
}

func score(preds []prediction) *Report {
	r := &Report{
		Confusion: make(map[string]map[string]int),
		Total:     len(preds),
	}

	// Categories are keyed case-insensitively; the first spelling seen is displayed.
	byKey := make(map[string]*CategoryMetrics)
	metric := func(label string) *CategoryMetrics {
		key := model.CategoryKey(label)
		m, ok := byKey[key]
		if !ok {
			m = &CategoryMetrics{Category: label}
			byKey[key] = m
		}
		return m
	}

	for _, p := range preds {
		if p.skipped {
			r.Skipped++
			continue
		}
		r.Evaluated++

		actual := metric(p.label)
		actual.Support++

		predicted := p.predicted
		switch {
		case p.failed:
			r.Failed++
			predicted = NoPrediction
		case p.abstained:
			r.Abstained++
			predicted = NoPrediction
		}

		row := r.Confusion[actual.Category]
		if row == nil {
			row = make(map[string]int)
			r.Confusion[actual.Category] = row
		}

		if predicted == NoPrediction {
			row[NoPrediction]++
			actual.FalseNegatives++
			continue
		}

		guess := metric(predicted)
		row[guess.Category]++
		if model.SameCategory(p.label, predicted) {
			r.Correct++
			actual.TruePositives++
		} else {
			actual.FalseNegatives++
			guess.FalsePositives++
		}
	}

	r.Categories = make([]CategoryMetrics, 0, len(byKey))
	for _, m := range byKey {
		m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
		m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Categories = append(r.Categories, *m)
	}
	sort.Slice(r.Categories, func(i, j int) bool {
		return model.CategoryKey(r.Categories[i].Category) < model.CategoryKey(r.Categories[j].Category)
	})

	r.Accuracy = ratio(r.Correct, r.Evaluated)
	r.Coverage = ratio(r.Evaluated-r.Abstained-r.Failed, r.Evaluated)
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
