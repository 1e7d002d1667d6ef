package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/features"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

func floatPtr(f float64) *float64 { return &f }

func input(t *testing.T, payee string, amount float64) service.Input {
	t.Helper()
	txn := model.Transaction{
		ID:     "t",
		Date:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Payee:  payee,
		Amount: amount,
	}
	bundle, err := features.NewExtractor().Extract(txn, nil)
	require.NoError(t, err)
	return service.Input{Transaction: txn, Features: bundle}
}

func TestClassifier_Classify(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		rules        []Rule
		payee        string
		wantCategory string
		amount       float64
		wantOK       bool
	}{
		{
			name:         "glob prefix match is case insensitive",
			rules:        []Rule{{Pattern: "Amazon*", Category: "Shopping"}},
			payee:        "AMAZON Marketplace",
			amount:       -42.17,
			wantCategory: "Shopping",
			wantOK:       true,
		},
		{
			name:   "glob is anchored",
			rules:  []Rule{{Pattern: "Amazon*", Category: "Shopping"}},
			payee:  "Not Amazon",
			amount: -10,
		},
		{
			name:         "regex matches raw payee",
			rules:        []Rule{{Pattern: `^LYFT\s+\*RIDE`, Kind: KindRegex, Category: "Travel"}},
			payee:        "LYFT   *RIDE SUN 4PM",
			amount:       -18,
			wantCategory: "Travel",
			wantOK:       true,
		},
		{
			name:         "exact matches normalized payee",
			rules:        []Rule{{Pattern: "whole  foods", Kind: KindExact, Category: "Groceries"}},
			payee:        "WHOLE FOODS #10234",
			amount:       -80,
			wantCategory: "Groceries",
			wantOK:       true,
		},
		{
			name: "first matching rule wins",
			rules: []Rule{
				{Pattern: "Amazon Prime*", Category: "Subscriptions"},
				{Pattern: "Amazon*", Category: "Shopping"},
			},
			payee:        "Amazon Prime Video",
			amount:       -14.99,
			wantCategory: "Subscriptions",
			wantOK:       true,
		},
		{
			name: "general rule registered first shadows specific one",
			rules: []Rule{
				{Pattern: "Amazon*", Category: "Shopping"},
				{Pattern: "Amazon Prime*", Category: "Subscriptions"},
			},
			payee:        "Amazon Prime Video",
			amount:       -14.99,
			wantCategory: "Shopping",
			wantOK:       true,
		},
		{
			name:   "direction filter excludes credits",
			rules:  []Rule{{Pattern: "Amazon*", Category: "Shopping", Direction: "debit"}},
			payee:  "Amazon refund",
			amount: 20,
		},
		{
			name: "amount range narrows match",
			rules: []Rule{
				{Pattern: "Shell*", Category: "Snacks", AmountMax: floatPtr(15)},
				{Pattern: "Shell*", Category: "Fuel"},
			},
			payee:        "Shell Oil 5744",
			amount:       -48.1,
			wantCategory: "Fuel",
			wantOK:       true,
		},
		{
			name:   "no rules abstains",
			payee:  "Anything",
			amount: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(tt.rules, nil)
			require.NoError(t, err)

			got, ok, err := c.Classify(ctx, input(t, tt.payee, tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, model.CategorySuggestion{}, got)
				return
			}
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, model.SourceRule, got.Source)
			assert.InDelta(t, DefaultConfidence, got.Confidence, 1e-9)
			assert.NotEmpty(t, got.Rationale)
		})
	}
}

func TestNewClassifier_Validation(t *testing.T) {
	taxonomy := model.NewTaxonomy("Shopping", "Groceries")

	tests := []struct {
		name string
		rule Rule
	}{
		{name: "empty pattern", rule: Rule{Category: "Shopping"}},
		{name: "empty category", rule: Rule{Pattern: "x"}},
		{name: "bad regex", rule: Rule{Pattern: "(", Kind: KindRegex, Category: "Shopping"}},
		{name: "bad kind", rule: Rule{Pattern: "x", Kind: "fuzzy", Category: "Shopping"}},
		{name: "bad direction", rule: Rule{Pattern: "x", Category: "Shopping", Direction: "sideways"}},
		{name: "confidence too high", rule: Rule{Pattern: "x", Category: "Shopping", Confidence: floatPtr(1.5)}},
		{name: "category outside taxonomy", rule: Rule{Pattern: "x", Category: "Travel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier([]Rule{tt.rule}, taxonomy)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestNewClassifier_CanonicalizesCategory(t *testing.T) {
	c, err := NewClassifier([]Rule{{Pattern: "Safeway*", Category: "  groceries", Confidence: floatPtr(0.8)}}, model.NewTaxonomy("Groceries"))
	require.NoError(t, err)

	got, ok, err := c.Classify(context.Background(), input(t, "SAFEWAY #1234", -60))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Groceries", got.Category)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestClassifier_ExplicitZeroConfidence(t *testing.T) {
	rules, err := Parse([]byte(`
rules:
  - pattern: "Venmo*"
    category: Transfers
    confidence: 0
  - pattern: "Zelle*"
    category: Transfers
`))
	require.NoError(t, err)
	require.NotNil(t, rules[0].Confidence, "an explicit zero is not the same as unset")

	c, err := NewClassifier(rules, nil)
	require.NoError(t, err)
	ctx := context.Background()

	got, ok, err := c.Classify(ctx, input(t, "VENMO PAYMENT", -20))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, got.Confidence)

	got, ok, err = c.Classify(ctx, input(t, "Zelle to Sam", -20))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, DefaultConfidence, got.Confidence, 1e-9)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: amazon
    pattern: "Amazon*"
    category: Shopping
    confidence: 0.95
  - name: starbucks
    pattern: "^STARBUCKS"
    kind: regex
    category: Dining
    direction: debit
    amount_max: 25
`), 0o600))

	rules, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "amazon", rules[0].Name)
	assert.Equal(t, KindRegex, rules[1].Kind)
	require.NotNil(t, rules[1].AmountMax)
	assert.InDelta(t, 25.0, *rules[1].AmountMax, 1e-9)

	c, err := NewClassifier(rules, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	require.NotNil(t, rules[0].Confidence)
	assert.Nil(t, rules[1].Confidence)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("rules: [unclosed"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
