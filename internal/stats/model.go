// Package stats implements the learned statistical classifier: a multinomial naive Bayes
// model over feature-bundle terms, held behind an atomically swappable handle.
package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jbrukh/bayesian"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// Model is one immutable trained generation. It is safe for concurrent Predict calls.
type Model struct {
	trainedAt   time.Time
	classifier  *bayesian.Classifier
	fingerprint string
	classes     []bayesian.Class
	labels      map[bayesian.Class]string
	examples    int
}

// Prediction is the model's full probability distribution for one bundle.
type Prediction struct {
	Scores   map[string]float64
	Category string
	Prob     float64
}

// Train fits a model on corpus. Training is deterministic: classes and examples are sorted
// before learning, so equal corpora produce models with identical predictions.
func Train(corpus model.TrainingCorpus) (*Model, error) {
	labels := corpus.Categories()
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 categories, have %d", common.ErrCorpusTooSmall, len(labels))
	}

	m := &Model{
		classes:     make([]bayesian.Class, 0, len(labels)),
		labels:      make(map[bayesian.Class]string, len(labels)),
		fingerprint: corpus.Fingerprint(),
		examples:    corpus.Len(),
		trainedAt:   time.Now(),
	}
	for _, label := range labels {
		class := bayesian.Class(model.CategoryKey(label))
		m.classes = append(m.classes, class)
		m.labels[class] = label
	}

	m.classifier = bayesian.NewClassifier(m.classes...)

	examples := make([]model.TrainingExample, len(corpus.Examples))
	copy(examples, corpus.Examples)
	sort.SliceStable(examples, func(i, j int) bool {
		return examples[i].TransactionID < examples[j].TransactionID
	})
	for _, ex := range examples {
		m.classifier.Learn(ex.Features.Terms(), bayesian.Class(model.CategoryKey(ex.Category)))
	}

	return m, nil
}

// Predict returns the argmax category and its posterior probability together with the
// whole distribution.
func (m *Model) Predict(bundle model.FeatureBundle) Prediction {
	logScores, _, _ := m.classifier.LogScores(bundle.Terms())
	probs := softmax(logScores)

	pred := Prediction{Scores: make(map[string]float64, len(probs))}
	best := -1
	for i, p := range probs {
		label := m.labels[m.classes[i]]
		pred.Scores[label] = p
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	if best >= 0 {
		pred.Category = m.labels[m.classes[best]]
		pred.Prob = probs[best]
	}
	return pred
}

// Fingerprint identifies the corpus the model was trained on.
func (m *Model) Fingerprint() string {
	return m.fingerprint
}

// Examples returns the corpus size the model was trained on.
func (m *Model) Examples() int {
	return m.examples
}

// Categories returns the labels the model can predict.
func (m *Model) Categories() []string {
	out := make([]string, 0, len(m.classes))
	for _, c := range m.classes {
		out = append(out, m.labels[c])
	}
	return out
}

// TrainedAt returns when the model was fitted.
func (m *Model) TrainedAt() time.Time {
	return m.trainedAt
}

// softmax converts log scores into probabilities without underflow.
func softmax(logScores []float64) []float64 {
	if len(logScores) == 0 {
		return nil
	}
	maxScore := math.Inf(-1)
	for _, s := range logScores {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float64, len(logScores))
	var sum float64
	for i, s := range logScores {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		uniform := 1 / float64(len(probs))
		for i := range probs {
			probs[i] = uniform
		}
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
