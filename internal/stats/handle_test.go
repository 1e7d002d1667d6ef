package stats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

var extractor = features.NewExtractor()

func bundle(t *testing.T, id, payee string, amount float64) model.FeatureBundle {
	t.Helper()
	b, err := extractor.Extract(model.Transaction{
		ID:     id,
		Date:   time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC),
		Payee:  payee,
		Amount: amount,
	}, nil)
	require.NoError(t, err)
	return b
}

func corpus(t *testing.T) model.TrainingCorpus {
	t.Helper()
	var c model.TrainingCorpus
	add := func(payee, category string, amount float64, n int) {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s-%d", category, i)
			c.Examples = append(c.Examples, model.TrainingExample{
				TransactionID: id,
				Category:      category,
				Features:      bundle(t, id, payee, amount),
			})
		}
	}
	add("Shell Oil 5744", "Fuel", -45, 4)
	add("Chevron 0091", "Fuel", -52, 3)
	add("Whole Foods Market", "Groceries", -80, 4)
	add("Safeway Store", "Groceries", -35, 3)
	add("Netflix.com", "Subscriptions", -15.49, 3)
	return c
}

func inputFor(t *testing.T, payee string, amount float64) service.Input {
	t.Helper()
	return service.Input{Features: bundle(t, "q", payee, amount)}
}

func TestTrain_RequiresTwoCategories(t *testing.T) {
	_, err := Train(model.TrainingCorpus{})
	assert.ErrorIs(t, err, common.ErrCorpusTooSmall)

	_, err = Train(model.TrainingCorpus{Examples: []model.TrainingExample{
		{TransactionID: "a", Category: "Fuel", Features: bundle(t, "a", "Shell", -10)},
		{TransactionID: "b", Category: "fuel", Features: bundle(t, "b", "Chevron", -10)},
	}})
	assert.ErrorIs(t, err, common.ErrCorpusTooSmall)
}

func TestModel_Predict(t *testing.T) {
	m, err := Train(corpus(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuel", "Groceries", "Subscriptions"}, m.Categories())
	assert.Equal(t, 17, m.Examples())

	pred := m.Predict(bundle(t, "x", "SHELL OIL 1234", -40))
	assert.Equal(t, "Fuel", pred.Category)
	assert.Greater(t, pred.Prob, 0.5)

	var sum float64
	for _, p := range pred.Scores {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	pred = m.Predict(bundle(t, "y", "Whole Foods", -60))
	assert.Equal(t, "Groceries", pred.Category)
}

func TestTrain_Deterministic(t *testing.T) {
	c := corpus(t)
	reversed := model.TrainingCorpus{Examples: make([]model.TrainingExample, len(c.Examples))}
	for i, ex := range c.Examples {
		reversed.Examples[len(c.Examples)-1-i] = ex
	}

	a, err := Train(c)
	require.NoError(t, err)
	b, err := Train(reversed)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	for _, payee := range []string{"Shell", "Safeway", "Netflix", "Mystery Vendor"} {
		q := bundle(t, "q", payee, -20)
		pa, pb := a.Predict(q), b.Predict(q)
		assert.Equal(t, pa.Category, pb.Category, payee)
		for cat, p := range pa.Scores {
			assert.InDelta(t, p, pb.Scores[cat], 1e-12, "%s/%s", payee, cat)
		}
	}
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float64{-1000, -1001, -1002})
	assert.Greater(t, probs[0], probs[1])
	assert.Greater(t, probs[1], probs[2])
	assert.InDelta(t, 1.0, probs[0]+probs[1]+probs[2], 1e-12)

	assert.Nil(t, softmax(nil))
}

func TestHandle_AbstainsUntrained(t *testing.T) {
	h := NewHandle(5, common.DiscardLogger())

	_, ok, err := h.Classify(context.Background(), inputFor(t, "Shell", -30))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, h.Active())
}

func TestHandle_Retrain(t *testing.T) {
	ctx := context.Background()
	h := NewHandle(5, common.DiscardLogger())
	c := corpus(t)

	res, err := h.Retrain(ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Swapped)
	assert.Equal(t, 3, res.Categories)
	assert.Equal(t, int64(1), h.Generation())

	s, ok, err := h.Classify(ctx, service.Input{
		Taxonomy: model.NewTaxonomy("FUEL", "Groceries", "Subscriptions"),
		Features: bundle(t, "q", "Chevron 1", -48),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "FUEL", s.Category, "canonicalized to taxonomy spelling")
	assert.Equal(t, model.SourceStatistical, s.Source)
	assert.NotEmpty(t, s.Rationale)

	// Same corpus again is idempotent.
	res, err = h.Retrain(ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Swapped)
	assert.Equal(t, int64(1), h.Generation())
}

func TestHandle_RetrainFailureKeepsPriorModel(t *testing.T) {
	ctx := context.Background()
	h := NewHandle(3, common.DiscardLogger())

	_, err := h.Retrain(ctx, corpus(t))
	require.NoError(t, err)
	prior := h.Active()

	_, err = h.Retrain(ctx, model.TrainingCorpus{Examples: corpus(t).Examples[:2]})
	assert.ErrorIs(t, err, common.ErrCorpusTooSmall)
	assert.Same(t, prior, h.Active())

	oneCategory := model.TrainingCorpus{Examples: corpus(t).Examples[:5]}
	_, err = h.Retrain(ctx, oneCategory)
	assert.ErrorIs(t, err, common.ErrCorpusTooSmall)
	assert.Same(t, prior, h.Active())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	bigger := corpus(t)
	bigger.Examples = append(bigger.Examples, model.TrainingExample{
		TransactionID: "extra", Category: "Fuel", Features: bundle(t, "extra", "Arco", -30),
	})
	_, err = h.Retrain(cancelled, bigger)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, prior, h.Active())
}

func TestHandle_ConcurrentClassifyDuringRetrain(t *testing.T) {
	ctx := context.Background()
	h := NewHandle(1, common.DiscardLogger())
	c := corpus(t)
	_, err := h.Retrain(ctx, c)
	require.NoError(t, err)

	in := inputFor(t, "Shell", -40)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s, ok, err := h.Classify(ctx, in)
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "Fuel", s.Category)
			}
		}()
	}

	for i := 0; i < 5; i++ {
		next := corpus(t)
		next.Examples = append(next.Examples, model.TrainingExample{
			TransactionID: fmt.Sprintf("gen-%d", i), Category: "Fuel", Features: bundle(t, "g", "Shell", -41),
		})
		_, err := h.Retrain(ctx, next)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int64(6), h.Generation())
}
