package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

func suggest(source model.Source, category string, confidence float64) model.SourceOutcome {
	return model.SourceOutcome{
		Source:     source,
		Suggestion: &model.CategorySuggestion{Source: source, Category: category, Confidence: confidence},
	}
}

func abstain(source model.Source) model.SourceOutcome {
	return model.SourceOutcome{Source: source}
}

func fail(source model.Source, err error) model.SourceOutcome {
	return model.SourceOutcome{Source: source, Err: err}
}

func newCombiner(t *testing.T) *Combiner {
	t.Helper()
	c, err := NewCombiner(DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestCombine_RulePrecedence(t *testing.T) {
	c := newCombiner(t)

	for _, llm := range []model.SourceOutcome{
		suggest(model.SourceLLM, "Electronics", 0.99),
		suggest(model.SourceLLM, "Shopping", 0.6),
		abstain(model.SourceLLM),
		fail(model.SourceLLM, common.ErrTransient),
	} {
		d := c.Combine("amazon", []model.SourceOutcome{
			suggest(model.SourceRule, "Shopping", 0.95),
			abstain(model.SourceStatistical),
			llm,
		})
		assert.Equal(t, model.StatusSuggested, d.Status)
		assert.Equal(t, "Shopping", d.Category)
		assert.Equal(t, model.AgreementPrecedence, d.Agreement)
		assert.Contains(t, d.Rationale, "rule precedence")
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
}

func TestCombine_RuleBelowThresholdDoesNotDominate(t *testing.T) {
	c := newCombiner(t)

	d := c.Combine("t", []model.SourceOutcome{
		suggest(model.SourceRule, "Shopping", 0.8),
		suggest(model.SourceStatistical, "Groceries", 0.9),
		suggest(model.SourceLLM, "Groceries", 0.8),
	})
	assert.Equal(t, "Groceries", d.Category)
	assert.Equal(t, model.AgreementMajority, d.Agreement)
	assert.Contains(t, d.Rationale, "dissent: rule suggested Shopping")
}

func TestCombine_DisagreementScenario(t *testing.T) {
	c := newCombiner(t)

	d := c.Combine("xyz", []model.SourceOutcome{
		abstain(model.SourceRule),
		suggest(model.SourceStatistical, "Professional Services", 0.6),
		suggest(model.SourceLLM, "Business Expense", 0.7),
	})

	assert.Equal(t, model.StatusSuggested, d.Status)
	assert.Equal(t, model.AgreementConflict, d.Agreement)
	assert.Equal(t, "Professional Services", d.Category, "higher weighted support wins")
	assert.Less(t, d.Confidence, 0.7)
	assert.InDelta(t, (0.7*0.6+0.5*0.7)/1.2*0.85, d.Confidence, 1e-9)
	assert.Contains(t, d.Rationale, "DISAGREEMENT")
	assert.Contains(t, d.Rationale, "llm suggested Business Expense")
	assert.Contains(t, d.Rationale, "abstained: rule")
}

func TestCombine_TimeoutScenario(t *testing.T) {
	c := newCombiner(t)

	d := c.Combine("groceries", []model.SourceOutcome{
		suggest(model.SourceRule, "Groceries", 0.8),
		suggest(model.SourceStatistical, "groceries ", 0.55),
		fail(model.SourceLLM, fmt.Errorf("%w: %w", common.ErrTransient, context.DeadlineExceeded)),
	})

	assert.Equal(t, "Groceries", d.Category)
	assert.Equal(t, model.AgreementUnanimous, d.Agreement, "the failed source is not a dissenter")
	assert.GreaterOrEqual(t, d.Confidence, (0.8+0.55)/2)
	assert.InDelta(t, (1.0*0.8+0.7*0.55)/1.7+0.1, d.Confidence, 1e-9)
	require.Len(t, d.Failures, 1)
	assert.Equal(t, model.SourceLLM, d.Failures[0].Source)
	assert.Contains(t, d.Rationale, "failed: llm")
	assert.NotContains(t, d.Rationale, "dissent")
	assert.Len(t, d.Contributions, 2)
}

func TestCombine_SingleSource(t *testing.T) {
	c := newCombiner(t)

	d := c.Combine("t", []model.SourceOutcome{
		abstain(model.SourceRule),
		abstain(model.SourceStatistical),
		suggest(model.SourceLLM, "Travel", 0.8),
	})
	assert.Equal(t, "Travel", d.Category)
	assert.Equal(t, model.AgreementSingle, d.Agreement)
	assert.InDelta(t, 0.72, d.Confidence, 1e-9)
	assert.Contains(t, d.Rationale, "only llm produced a suggestion")
}

func TestCombine_NoSuggestion(t *testing.T) {
	c := newCombiner(t)

	for name, outcomes := range map[string][]model.SourceOutcome{
		"nothing":     nil,
		"all abstain": {abstain(model.SourceRule), abstain(model.SourceStatistical), abstain(model.SourceLLM)},
		"mixed":       {abstain(model.SourceRule), fail(model.SourceStatistical, errors.New("boom")), fail(model.SourceLLM, common.ErrMalformedResponse)},
	} {
		d := c.Combine("t", outcomes)
		assert.Equal(t, model.StatusNoSuggestion, d.Status, name)
		assert.Equal(t, model.AgreementNone, d.Agreement, name)
		assert.Empty(t, d.Category, name)
		assert.Zero(t, d.Confidence, name)
		assert.False(t, d.HasSuggestion(), name)
		assert.Contains(t, d.Rationale, "no source produced a suggestion", name)
	}
}

func TestCombine_Normalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scales[model.SourceLLM] = Scale{Min: 0, Max: 100}
	c, err := NewCombiner(cfg)
	require.NoError(t, err)

	d := c.Combine("t", []model.SourceOutcome{suggest(model.SourceLLM, "Travel", 80)})
	assert.InDelta(t, 0.8*0.9, d.Confidence, 1e-9)

	d = c.Combine("t", []model.SourceOutcome{suggest(model.SourceStatistical, "Travel", 7)})
	assert.InDelta(t, 0.9, d.Confidence, 1e-9, "out-of-range confidence is clamped")
}

func TestCombine_FourthSource(t *testing.T) {
	c := newCombiner(t)
	vendor := model.Source("vendor")

	d := c.Combine("t", []model.SourceOutcome{
		suggest(vendor, "Dining", 0.9),
		suggest(model.SourceLLM, "Dining", 0.6),
	})
	assert.Equal(t, "Dining", d.Category)
	assert.Equal(t, model.AgreementUnanimous, d.Agreement)
}

// TestCombine_Properties sweeps random outcome sets and checks the decision invariants.
func TestCombine_Properties(t *testing.T) {
	c := newCombiner(t)
	rng := rand.New(rand.NewSource(42))
	categories := []string{"Groceries", "Dining", "Travel"}
	sources := []model.Source{model.SourceRule, model.SourceStatistical, model.SourceLLM}

	for i := 0; i < 2000; i++ {
		var outcomes []model.SourceOutcome
		maxConf := 0.0
		for _, s := range sources {
			switch rng.Intn(4) {
			case 0:
				outcomes = append(outcomes, abstain(s))
			case 1:
				outcomes = append(outcomes, fail(s, common.ErrTransient))
			default:
				conf := rng.Float64()
				if conf > maxConf {
					maxConf = conf
				}
				outcomes = append(outcomes, suggest(s, categories[rng.Intn(len(categories))], conf))
			}
		}

		d := c.Combine("p", outcomes)
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
		assert.LessOrEqual(t, d.Confidence, maxConf+c.Config().AgreementBonus+1e-12)

		var present []model.CategorySuggestion
		for _, o := range outcomes {
			if o.Suggestion != nil {
				present = append(present, *o.Suggestion)
			}
		}
		if len(present) == 0 {
			assert.Equal(t, model.StatusNoSuggestion, d.Status)
			continue
		}

		if rule := present[0]; rule.Source == model.SourceRule && rule.Confidence > c.Config().RuleThreshold {
			assert.Equal(t, rule.Category, d.Category)
			continue
		}

		if len(present) == 3 {
			for x := 0; x < 3; x++ {
				a, b, other := present[x], present[(x+1)%3], present[(x+2)%3]
				if model.SameCategory(a.Category, b.Category) && !model.SameCategory(a.Category, other.Category) {
					assert.Equal(t, a.Category, d.Category)
					assert.GreaterOrEqual(t, d.Confidence+1e-12, (a.Confidence+b.Confidence)/2)
				}
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "negative weight", mutate: func(c *Config) { c.Weights[model.SourceLLM] = -1 }},
		{name: "llm above rule", mutate: func(c *Config) { c.Weights[model.SourceLLM] = 2 }},
		{name: "bonus above one", mutate: func(c *Config) { c.AgreementBonus = 1.5 }},
		{name: "negative penalty", mutate: func(c *Config) { c.DisagreementPenalty = -0.1 }},
		{name: "empty scale", mutate: func(c *Config) { c.Scales[model.SourceRule] = Scale{Min: 1, Max: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewCombiner(cfg)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}

	cfg := DefaultConfig()
	cfg.Weights[model.SourceLLM] = 2
	cfg.AllowAnyOrder = true
	assert.NoError(t, cfg.Validate())
}
