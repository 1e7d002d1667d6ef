// Package features turns raw transactions into the normalized feature bundles the
// classifiers consume.
package features

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// Amount bucket labels, by absolute value in currency units.
const (
	BucketZero   = "zero"
	BucketTiny   = "tiny"   // < 10
	BucketSmall  = "small"  // < 50
	BucketMedium = "medium" // < 200
	BucketLarge  = "large"  // < 1000
	BucketHuge   = "huge"
)

// Direction labels.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
	DirectionZero   = "zero"
)

var bucketBounds = []struct {
	limit decimal.Decimal
	label string
}{
	{decimal.NewFromInt(10), BucketTiny},
	{decimal.NewFromInt(50), BucketSmall},
	{decimal.NewFromInt(200), BucketMedium},
	{decimal.NewFromInt(1000), BucketLarge},
}

// Bank statement noise that carries no information about the merchant.
var defaultStopwords = []string{
	"the", "and", "of", "llc", "inc", "co", "corp", "ltd", "com", "www", "pos", "ach",
	"debit", "credit", "card", "purchase", "payment", "pmt", "recurring", "online", "ref",
}

// Extractor builds feature bundles. It is stateless after construction and safe for
// concurrent use.
type Extractor struct {
	stopwords map[string]struct{}
}

// NewExtractor creates an extractor. extraStopwords are dropped from payee and memo tokens in
// addition to the built-in list.
func NewExtractor(extraStopwords ...string) *Extractor {
	e := &Extractor{stopwords: make(map[string]struct{}, len(defaultStopwords)+len(extraStopwords))}
	for _, w := range defaultStopwords {
		e.stopwords[w] = struct{}{}
	}
	for _, w := range extraStopwords {
		e.stopwords[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return e
}

// Extract derives the feature bundle for txn. history may be nil. Missing payee, memo, and
// account are replaced with neutral values; only structurally broken transactions fail.
func (e *Extractor) Extract(txn model.Transaction, history *History) (model.FeatureBundle, error) {
	if err := validate(txn); err != nil {
		return model.FeatureBundle{}, err
	}

	tokens := e.Tokenize(txn.Payee)
	normalized := strings.Join(tokens, " ")
	if normalized == "" {
		normalized = model.UnknownPayee
	}

	account := normalizeAccount(txn.AccountID)

	cents := decimal.NewFromFloat(txn.Amount).Round(2)

	bundle := model.FeatureBundle{
		TransactionID:   txn.ID,
		NormalizedPayee: normalized,
		PayeeTokens:     tokens,
		MemoTokens:      e.Tokenize(txn.Memo),
		AmountBucket:    bucketFor(cents.Abs()),
		Direction:       directionFor(cents),
		AccountID:       account,
		Weekday:         txn.Date.Weekday(),
		Month:           txn.Date.Month(),
		MonthPart:       monthPart(txn.Date.Day()),
		AbsAmount:       cents.Abs().InexactFloat64(),
	}

	if history != nil && normalized != model.UnknownPayee {
		bundle.History, bundle.HistoryCount = history.Distribution(normalized, account, txn.ID)
	}

	return bundle, nil
}

// Tokenize lowercases text, splits on anything that is not a letter, and drops stopwords,
// single characters, and pure numbers.
func (e *Extractor) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := e.stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// NormalizePayee returns the canonical payee string used for history lookups.
func (e *Extractor) NormalizePayee(payee string) string {
	normalized := strings.Join(e.Tokenize(payee), " ")
	if normalized == "" {
		return model.UnknownPayee
	}
	return normalized
}

func validate(txn model.Transaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return fmt.Errorf("%w: missing transaction id", common.ErrMalformedTransaction)
	}
	if math.IsNaN(txn.Amount) || math.IsInf(txn.Amount, 0) {
		return fmt.Errorf("%w: transaction %s has non-finite amount", common.ErrMalformedTransaction, txn.ID)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: transaction %s has no date", common.ErrMalformedTransaction, txn.ID)
	}
	return nil
}

func bucketFor(abs decimal.Decimal) string {
	if abs.IsZero() {
		return BucketZero
	}
	for _, b := range bucketBounds {
		if abs.LessThan(b.limit) {
			return b.label
		}
	}
	return BucketHuge
}

func directionFor(amount decimal.Decimal) string {
	switch amount.Sign() {
	case -1:
		return DirectionDebit
	case 1:
		return DirectionCredit
	default:
		return DirectionZero
	}
}

func monthPart(day int) string {
	switch {
	case day <= 10:
		return "early"
	case day <= 20:
		return "mid"
	default:
		return "late"
	}
}
