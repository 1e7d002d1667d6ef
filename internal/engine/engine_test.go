package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/ensemble"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/llm"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/rules"
	"github.com/Veraticus/bookkeeper/internal/service"
)

var taxonomy = model.NewTaxonomy("Shopping", "Groceries", "Electronics", "Professional Services", "Business Expense")

func fixed(source model.Source, category string, confidence float64) service.Classifier {
	return service.ClassifierFunc{
		Tag: source,
		Fn: func(context.Context, service.Input) (model.CategorySuggestion, bool, error) {
			return model.CategorySuggestion{Category: category, Confidence: confidence, Rationale: "fixed"}, true, nil
		},
	}
}

func abstaining(source model.Source) service.Classifier {
	return service.ClassifierFunc{
		Tag: source,
		Fn: func(context.Context, service.Input) (model.CategorySuggestion, bool, error) {
			return model.CategorySuggestion{}, false, nil
		},
	}
}

// slowClient never answers before its delay.
type slowClient struct {
	reply string
	delay time.Duration
}

func (s slowClient) Complete(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func llmSource(reply string, delay time.Duration) service.Classifier {
	return llm.NewClassifier(slowClient{reply: reply, delay: delay}, llm.Config{
		Timeout:   50 * time.Millisecond,
		RateLimit: -1,
		CacheTTL:  -1,
	}, common.DiscardLogger())
}

func newEngine(t *testing.T, sources ...service.Classifier) *ClassificationEngine {
	t.Helper()
	combiner, err := ensemble.NewCombiner(ensemble.DefaultConfig())
	require.NoError(t, err)
	e, err := New(features.NewExtractor(), combiner, taxonomy, sources, Options{Workers: 3, AutoAcceptThreshold: 0.9, Logger: common.DiscardLogger()})
	require.NoError(t, err)
	return e
}

func txn(id, payee string, amount float64) model.Transaction {
	return model.Transaction{ID: id, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Payee: payee, Amount: amount}
}

func TestDecide_RulePrecedence(t *testing.T) {
	ruleSource, err := rules.NewClassifier([]rules.Rule{{Pattern: "Amazon*", Category: "Shopping"}}, taxonomy)
	require.NoError(t, err)

	e := newEngine(t,
		ruleSource,
		abstaining(model.SourceStatistical),
		llmSource(`{"category": "Electronics", "confidence": 0.99}`, 0),
	)

	r, err := e.Decide(context.Background(), txn("a1", "Amazon Marketplace", -42.17), nil)
	require.NoError(t, err)
	assert.Equal(t, "Shopping", r.Decision.Category)
	assert.Equal(t, model.AgreementPrecedence, r.Decision.Agreement)
	assert.Contains(t, r.Decision.Rationale, "rule precedence")
	assert.Len(t, r.Decision.Contributions, 2)
	assert.True(t, r.AutoAccepted)
}

func TestDecide_LLMTimeoutDegradesToAbsent(t *testing.T) {
	e := newEngine(t,
		fixed(model.SourceRule, "Groceries", 0.8),
		fixed(model.SourceStatistical, "groceries", 0.55),
		llmSource(`{"category": "Shopping", "confidence": 0.9}`, 5*time.Second),
	)

	start := time.Now()
	r, err := e.Decide(context.Background(), txn("g1", "Corner Market", -31.2), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	d := r.Decision
	assert.Equal(t, "Groceries", d.Category)
	assert.Equal(t, model.AgreementUnanimous, d.Agreement)
	assert.GreaterOrEqual(t, d.Confidence, (0.8+0.55)/2)
	require.Len(t, d.Failures, 1)
	assert.Equal(t, model.SourceLLM, d.Failures[0].Source)
	assert.Contains(t, d.Failures[0].Reason, "deadline exceeded")
}

func TestDecide_ValidatesSuggestions(t *testing.T) {
	panicky := service.ClassifierFunc{
		Tag: model.Source("vendor"),
		Fn: func(context.Context, service.Input) (model.CategorySuggestion, bool, error) {
			panic("boom")
		},
	}
	e := newEngine(t,
		fixed(model.SourceRule, "Crypto", 0.99),
		fixed(model.SourceStatistical, "  professional   services", 0.6),
		panicky,
	)

	r, err := e.Decide(context.Background(), txn("x1", "XYZ Consulting LLC", -900), nil)
	require.NoError(t, err)

	d := r.Decision
	assert.Equal(t, "Professional Services", d.Category, "canonical spelling")
	assert.Equal(t, model.AgreementSingle, d.Agreement)
	require.Len(t, d.Failures, 2)
	assert.Equal(t, model.SourceRule, d.Failures[0].Source)
	assert.Contains(t, d.Failures[0].Reason, "not in the taxonomy")
	assert.Contains(t, d.Failures[1].Reason, "panicked")
}

func TestDecide_NoSuggestion(t *testing.T) {
	failing := service.ClassifierFunc{
		Tag: model.SourceLLM,
		Fn: func(context.Context, service.Input) (model.CategorySuggestion, bool, error) {
			return model.CategorySuggestion{}, false, fmt.Errorf("connection refused")
		},
	}
	e := newEngine(t, abstaining(model.SourceRule), abstaining(model.SourceStatistical), failing)

	r, err := e.Decide(context.Background(), txn("n1", "Venmo Jane", -20), nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoSuggestion, r.Decision.Status)
	assert.False(t, r.AutoAccepted)
	require.Len(t, r.Decision.Failures, 1)
}

func TestDecide_MalformedTransaction(t *testing.T) {
	e := newEngine(t, abstaining(model.SourceRule))

	_, err := e.Decide(context.Background(), model.Transaction{ID: "", Payee: "x"}, nil)
	assert.ErrorIs(t, err, common.ErrMalformedTransaction)
}

func TestClassify_EnsembleAsClassifier(t *testing.T) {
	e := newEngine(t, fixed(model.SourceRule, "Groceries", 0.95))
	assert.Equal(t, model.SourceEnsemble, e.Source())

	in, err := e.Input(txn("c1", "Safeway", -40), nil)
	require.NoError(t, err)

	s, ok, err := e.Classify(context.Background(), in)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Groceries", s.Category)
	assert.Equal(t, model.SourceEnsemble, s.Source)
}

func TestNew_Validation(t *testing.T) {
	combiner, err := ensemble.NewCombiner(ensemble.DefaultConfig())
	require.NoError(t, err)

	_, err = New(features.NewExtractor(), combiner, taxonomy, []service.Classifier{
		abstaining(model.SourceRule), abstaining(model.SourceRule),
	}, Options{})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = New(features.NewExtractor(), combiner, taxonomy, []service.Classifier{abstaining("")}, Options{})
	assert.ErrorIs(t, err, common.ErrUnknownSource)

	_, err = New(nil, combiner, taxonomy, nil, Options{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
