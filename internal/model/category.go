package model

import (
	"sort"
	"strings"
)

// CategoryKey folds a category label for comparison: case-insensitive, with surrounding
// whitespace trimmed and inner whitespace runs collapsed.
func CategoryKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// SameCategory reports whether two labels name the same category.
func SameCategory(a, b string) bool {
	return CategoryKey(a) == CategoryKey(b)
}

// Taxonomy is the closed set of category labels a suggestion may name.
type Taxonomy struct {
	canonical map[string]string
	names     []string
}

// NewTaxonomy builds a taxonomy from labels. Blank labels and duplicates (by CategoryKey)
// are dropped; the first spelling wins.
func NewTaxonomy(labels ...string) *Taxonomy {
	t := &Taxonomy{canonical: make(map[string]string, len(labels))}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		key := CategoryKey(label)
		if key == "" {
			continue
		}
		if _, exists := t.canonical[key]; exists {
			continue
		}
		t.canonical[key] = label
		t.names = append(t.names, label)
	}
	sort.Strings(t.names)
	return t
}

// Canonical returns the taxonomy's spelling of label.
func (t *Taxonomy) Canonical(label string) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.canonical[CategoryKey(label)]
	return name, ok
}

// Contains reports whether label is part of the taxonomy.
func (t *Taxonomy) Contains(label string) bool {
	_, ok := t.Canonical(label)
	return ok
}

// Names returns the labels in sorted order.
func (t *Taxonomy) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of categories.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}
