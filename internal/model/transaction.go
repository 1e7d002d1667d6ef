package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction is a single financial transaction as handed over by a reader. The core never
// mutates it.
type Transaction struct {
	Date        time.Time
	ID          string
	Payee       string
	Memo        string
	AccountID   string
	AccountName string
	Category    string // existing category, possibly empty or stale
	CheckNumber string
	Reference   string
	Amount      float64
}

// Fingerprint identifies the classification-relevant content of the transaction. Two
// transactions with equal fingerprints receive the same LLM suggestion.
func (t Transaction) Fingerprint() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Payee,
		t.Memo,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// IsDebit reports whether money left the account.
func (t Transaction) IsDebit() bool {
	return t.Amount < 0
}
