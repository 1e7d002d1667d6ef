package features

import (
	"strings"

	"github.com/Veraticus/bookkeeper/internal/model"
)

type historyEntry struct {
	transactionID string
	account       string
	category      string
}

// History is a read-only view of prior categorized transactions, indexed by normalized payee
// and tagged with their account. It is built once by the caller and shared across workers.
type History struct {
	byPayee map[string][]historyEntry
	size    int
}

// NewHistory indexes txns. Transactions without a category carry no signal and are skipped.
func (e *Extractor) NewHistory(txns []model.Transaction) *History {
	h := &History{byPayee: make(map[string][]historyEntry)}
	for _, txn := range txns {
		category := strings.TrimSpace(txn.Category)
		if category == "" {
			continue
		}
		payee := e.NormalizePayee(txn.Payee)
		if payee == model.UnknownPayee {
			continue
		}
		h.byPayee[payee] = append(h.byPayee[payee], historyEntry{
			transactionID: txn.ID,
			account:       normalizeAccount(txn.AccountID),
			category:      category,
		})
		h.size++
	}
	return h
}

// Len returns the number of indexed transactions.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Distribution returns the share of each category among prior transactions for payee, leaving
// out excludeID so a transaction never sees its own label. When the payee has prior labels on
// account, only those count; otherwise every account's labels for the payee do.
func (h *History) Distribution(payee, account, excludeID string) (map[string]float64, int) {
	if h == nil {
		return nil, 0
	}

	var sameAccount, anyAccount []historyEntry
	for _, entry := range h.byPayee[payee] {
		if entry.transactionID == excludeID {
			continue
		}
		anyAccount = append(anyAccount, entry)
		if entry.account == account {
			sameAccount = append(sameAccount, entry)
		}
	}

	entries := sameAccount
	if len(entries) == 0 {
		entries = anyAccount
	}
	if len(entries) == 0 {
		return nil, 0
	}

	counts := make(map[string]int)
	displayName := make(map[string]string)
	for _, entry := range entries {
		key := model.CategoryKey(entry.category)
		if _, ok := displayName[key]; !ok {
			displayName[key] = entry.category
		}
		counts[key]++
	}

	dist := make(map[string]float64, len(counts))
	for key, n := range counts {
		dist[displayName[key]] = float64(n) / float64(len(entries))
	}
	return dist, len(entries)
}

func normalizeAccount(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.UnknownAccount
	}
	return id
}
