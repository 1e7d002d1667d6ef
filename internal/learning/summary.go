package learning

import (
	"sort"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// Summary is the review-boundary accuracy of past suggestions, computed from the latest
// correction per transaction.
type Summary struct {
	ByCategory   map[string]CategorySummary
	Total        int
	Accepted     int
	Overridden   int
	Unsuggested  int // reviewed with no suggestion to accept
	Accuracy     float64
	Transactions []string
}

// CategorySummary counts outcomes for suggestions of one category.
type CategorySummary struct {
	Suggested int
	Accepted  int
}

// Summarize reports how often suggestions were accepted. ByCategory is keyed
// case-insensitively and displays the first spelling suggested, in log order.
func Summarize(log []model.Correction) Summary {
	latest := LatestByTransaction(log)
	ordered := make([]model.Correction, 0, len(latest))
	for _, c := range latest {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case newer(b, a):
			return true
		case newer(a, b):
			return false
		}
		return a.TransactionID < b.TransactionID
	})

	s := Summary{
		ByCategory:   make(map[string]CategorySummary),
		Transactions: make([]string, 0, len(latest)),
	}
	spelling := make(map[string]string)

	for _, c := range ordered {
		s.Transactions = append(s.Transactions, c.TransactionID)
		s.Total++

		key := model.CategoryKey(c.SuggestedCategory)
		if key == "" {
			s.Unsuggested++
			continue
		}
		name, ok := spelling[key]
		if !ok {
			name = strings.TrimSpace(c.SuggestedCategory)
			spelling[key] = name
		}

		cat := s.ByCategory[name]
		cat.Suggested++
		if c.Accepted() {
			s.Accepted++
			cat.Accepted++
		} else {
			s.Overridden++
		}
		s.ByCategory[name] = cat
	}
	sort.Strings(s.Transactions)

	if reviewed := s.Accepted + s.Overridden; reviewed > 0 {
		s.Accuracy = float64(s.Accepted) / float64(reviewed)
	}
	return s
}
