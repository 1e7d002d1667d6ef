package model

import (
	"sort"
	"time"
)

// Neutral values substituted for missing transaction fields.
const (
	UnknownPayee   = "unknown-payee"
	UnknownAccount = "unknown-account"
)

// FeatureBundle is the normalized, transaction-scoped view every classifier works from. It is
// recomputed on each run and only persisted as part of a Correction.
type FeatureBundle struct {
	TransactionID   string             `json:"transaction_id"`
	NormalizedPayee string             `json:"normalized_payee"`
	PayeeTokens     []string           `json:"payee_tokens"`
	MemoTokens      []string           `json:"memo_tokens,omitempty"`
	AmountBucket    string             `json:"amount_bucket"`
	Direction       string             `json:"direction"`
	AccountID       string             `json:"account_id"`
	Weekday         time.Weekday       `json:"weekday"`
	Month           time.Month         `json:"month"`
	MonthPart       string             `json:"month_part"`
	History         map[string]float64 `json:"history,omitempty"` // category -> share among prior payee transactions
	HistoryCount    int                `json:"history_count"`
	AbsAmount       float64            `json:"abs_amount"`
}

// DominantHistory returns the most frequent historical category for the payee and its share.
// Ties resolve alphabetically.
func (b FeatureBundle) DominantHistory() (string, float64) {
	var best string
	var share float64
	for _, cat := range b.historyCategories() {
		if s := b.History[cat]; s > share {
			best, share = cat, s
		}
	}
	return best, share
}

func (b FeatureBundle) historyCategories() []string {
	cats := make([]string, 0, len(b.History))
	for cat := range b.History {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// Terms flattens the bundle into the document the statistical model learns from.
func (b FeatureBundle) Terms() []string {
	terms := make([]string, 0, len(b.PayeeTokens)+len(b.MemoTokens)+8)
	terms = append(terms, b.PayeeTokens...)
	terms = append(terms, "payee="+b.NormalizedPayee)
	for _, tok := range b.MemoTokens {
		terms = append(terms, "memo="+tok)
	}
	terms = append(terms,
		"amount="+b.AmountBucket,
		"dir="+b.Direction,
		"dir_amount="+b.Direction+"/"+b.AmountBucket,
		"account="+b.AccountID,
		"weekday="+b.Weekday.String(),
		"month_part="+b.MonthPart,
	)
	if cat, share := b.DominantHistory(); cat != "" && share >= 0.5 {
		terms = append(terms, "history="+CategoryKey(cat))
	}
	return terms
}
