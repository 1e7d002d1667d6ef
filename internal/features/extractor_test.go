package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC) // Saturday

	bundle, err := e.Extract(model.Transaction{
		ID:        "t1",
		Date:      date,
		Payee:     "AMAZON MKTPLACE PMTS*2K4 Amzn.com/bill",
		Memo:      "Order #123 books",
		AccountID: "checking",
		Amount:    -42.17,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "t1", bundle.TransactionID)
	assert.Equal(t, []string{"amazon", "mktplace", "pmts", "amzn", "bill"}, bundle.PayeeTokens)
	assert.Equal(t, "amazon mktplace pmts amzn bill", bundle.NormalizedPayee)
	assert.Equal(t, []string{"order", "books"}, bundle.MemoTokens)
	assert.Equal(t, BucketSmall, bundle.AmountBucket)
	assert.Equal(t, DirectionDebit, bundle.Direction)
	assert.Equal(t, "checking", bundle.AccountID)
	assert.Equal(t, time.Saturday, bundle.Weekday)
	assert.Equal(t, time.March, bundle.Month)
	assert.Equal(t, "mid", bundle.MonthPart)
	assert.InDelta(t, 42.17, bundle.AbsAmount, 1e-9)
	assert.Nil(t, bundle.History)
}

func TestExtractor_NeutralValues(t *testing.T) {
	e := NewExtractor()

	bundle, err := e.Extract(model.Transaction{
		ID:     "t2",
		Date:   time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
		Amount: 0,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.UnknownPayee, bundle.NormalizedPayee)
	assert.Empty(t, bundle.PayeeTokens)
	assert.Empty(t, bundle.MemoTokens)
	assert.Equal(t, model.UnknownAccount, bundle.AccountID)
	assert.Equal(t, BucketZero, bundle.AmountBucket)
	assert.Equal(t, DirectionZero, bundle.Direction)
	assert.Equal(t, "late", bundle.MonthPart)
}

func TestExtractor_StructuralFailures(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		txn  model.Transaction
	}{
		{name: "missing id", txn: model.Transaction{Date: date, Amount: 1}},
		{name: "blank id", txn: model.Transaction{ID: "  ", Date: date, Amount: 1}},
		{name: "nan amount", txn: model.Transaction{ID: "x", Date: date, Amount: math.NaN()}},
		{name: "infinite amount", txn: model.Transaction{ID: "x", Date: date, Amount: math.Inf(-1)}},
		{name: "zero date", txn: model.Transaction{ID: "x", Amount: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.txn, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrMalformedTransaction)
		})
	}
}

func TestBucketFor(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		want   string
		amount float64
	}{
		{BucketTiny, -9.99},
		{BucketSmall, 10},
		{BucketSmall, -49.994}, // rounds to 49.99
		{BucketMedium, 49.995}, // rounds to 50.00
		{BucketMedium, 199.99},
		{BucketLarge, 200},
		{BucketHuge, -1000},
	}

	for _, tt := range tests {
		bundle, err := e.Extract(model.Transaction{ID: "b", Date: date, Payee: "x", Amount: tt.amount}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, bundle.AmountBucket, "amount %v", tt.amount)
	}
}

func TestHistory_Distribution(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	history := e.NewHistory([]model.Transaction{
		{ID: "h1", Date: date, Payee: "Whole Foods #123", Category: "Groceries"},
		{ID: "h2", Date: date, Payee: "WHOLE FOODS 456", Category: "groceries "},
		{ID: "h3", Date: date, Payee: "Whole Foods", Category: "Dining"},
		{ID: "h4", Date: date, Payee: "Whole Foods", Category: ""},
		{ID: "h5", Date: date, Payee: "Shell", Category: "Fuel"},
	})
	assert.Equal(t, 4, history.Len())

	bundle, err := e.Extract(model.Transaction{ID: "new", Date: date, Payee: "whole foods market?", Amount: -80}, history)
	require.NoError(t, err)
	assert.Nil(t, bundle.History, "different normalized payee has no history")

	bundle, err = e.Extract(model.Transaction{ID: "new", Date: date, Payee: "WHOLE FOODS", Amount: -80}, history)
	require.NoError(t, err)
	assert.Equal(t, 3, bundle.HistoryCount)
	assert.InDelta(t, 2.0/3.0, bundle.History["Groceries"], 1e-9)
	assert.InDelta(t, 1.0/3.0, bundle.History["Dining"], 1e-9)

	cat, share := bundle.DominantHistory()
	assert.Equal(t, "Groceries", cat)
	assert.InDelta(t, 2.0/3.0, share, 1e-9)
	assert.Contains(t, bundle.Terms(), "history=groceries")
}

func TestHistory_PrefersSameAccount(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	history := e.NewHistory([]model.Transaction{
		{ID: "c1", Date: date, Payee: "Costco", AccountID: "checking", Category: "Groceries"},
		{ID: "c2", Date: date, Payee: "Costco", AccountID: "checking", Category: "Groceries"},
		{ID: "v1", Date: date, Payee: "Costco", AccountID: "visa", Category: "Household"},
	})

	onVisa, err := e.Extract(model.Transaction{ID: "n1", Date: date, Payee: "COSTCO", AccountID: "visa", Amount: -120}, history)
	require.NoError(t, err)
	assert.Equal(t, 1, onVisa.HistoryCount)
	assert.Equal(t, map[string]float64{"Household": 1}, onVisa.History)

	onChecking, err := e.Extract(model.Transaction{ID: "n2", Date: date, Payee: "Costco", AccountID: " checking ", Amount: -120}, history)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Groceries": 1}, onChecking.History)

	// No labels on this account yet: fall back to the payee across accounts.
	onSavings, err := e.Extract(model.Transaction{ID: "n3", Date: date, Payee: "Costco", AccountID: "savings", Amount: -120}, history)
	require.NoError(t, err)
	assert.Equal(t, 3, onSavings.HistoryCount)
	assert.InDelta(t, 2.0/3.0, onSavings.History["Groceries"], 1e-9)

	// The only same-account label is the transaction itself, so other accounts count.
	self, err := e.Extract(model.Transaction{ID: "v1", Date: date, Payee: "Costco", AccountID: "visa", Amount: -120}, history)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Groceries": 1}, self.History)
}

func TestHistory_ExcludesSelf(t *testing.T) {
	e := NewExtractor()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	txn := model.Transaction{ID: "h1", Date: date, Payee: "Shell", Category: "Fuel", Amount: -40}

	history := e.NewHistory([]model.Transaction{txn})
	bundle, err := e.Extract(txn, history)
	require.NoError(t, err)
	assert.Zero(t, bundle.HistoryCount)
	assert.Nil(t, bundle.History)
}

func TestExtractor_Deterministic(t *testing.T) {
	e := NewExtractor("mktplace")
	txn := model.Transaction{
		ID:     "d",
		Date:   time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		Payee:  "Amazon Mktplace",
		Amount: 12.5,
	}

	a, err := e.Extract(txn, nil)
	require.NoError(t, err)
	b, err := e.Extract(txn, nil)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, []string{"amazon"}, a.PayeeTokens)
	assert.Equal(t, DirectionCredit, a.Direction)
}
