// Package rules provides the deterministic pattern-to-category classifier.
package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// PatternKind selects how Rule.Pattern is interpreted.
type PatternKind string

// Pattern kinds.
const (
	KindGlob  PatternKind = "glob"  // case-insensitive, * and ? wildcards, anchored
	KindRegex PatternKind = "regex" // Go regexp, matched unanchored
	KindExact PatternKind = "exact" // case/whitespace-insensitive equality
)

// DefaultConfidence applies to rules that leave confidence unset. Hand-authored rules are
// assumed near-certain.
const DefaultConfidence = 0.95

// Rule maps a payee pattern, optionally narrowed by direction and amount, to a category.
type Rule struct {
	AmountMin  *float64    `yaml:"amount_min,omitempty"`
	AmountMax  *float64    `yaml:"amount_max,omitempty"`
	Name       string      `yaml:"name"`
	Pattern    string      `yaml:"pattern"`
	Kind       PatternKind `yaml:"kind,omitempty"`
	Category   string      `yaml:"category"`
	Direction  string      `yaml:"direction,omitempty"` // debit, credit, or empty for either
	Confidence *float64    `yaml:"confidence,omitempty"` // nil means DefaultConfidence
}

// label names the rule in rationales.
func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Pattern
}

// confidence returns the rule's confidence, or DefaultConfidence when it is unset. An explicit
// zero is kept.
func (r Rule) confidence() float64 {
	if r.Confidence == nil {
		return DefaultConfidence
	}
	return *r.Confidence
}

// compile validates the rule and returns its matcher.
func (r Rule) compile() (*regexp.Regexp, error) {
	if strings.TrimSpace(r.Pattern) == "" {
		return nil, fmt.Errorf("%w: rule %q has an empty pattern", common.ErrInvalidConfig, r.label())
	}
	if strings.TrimSpace(r.Category) == "" {
		return nil, fmt.Errorf("%w: rule %q has no category", common.ErrInvalidConfig, r.label())
	}
	if c := r.confidence(); c < 0 || c > 1 || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: rule %q confidence %.2f outside [0,1]", common.ErrInvalidConfig, r.label(), c)
	}
	if r.AmountMin != nil && r.AmountMax != nil && *r.AmountMin > *r.AmountMax {
		return nil, fmt.Errorf("%w: rule %q amount_min exceeds amount_max", common.ErrInvalidConfig, r.label())
	}
	switch r.Direction {
	case "", "debit", "credit":
	default:
		return nil, fmt.Errorf("%w: rule %q has unknown direction %q", common.ErrInvalidConfig, r.label(), r.Direction)
	}

	var expr string
	switch r.Kind {
	case "", KindGlob:
		expr = globToRegex(r.Pattern)
	case KindRegex:
		expr = "(?i)" + r.Pattern
	case KindExact:
		expr = "(?i)^" + regexp.QuoteMeta(strings.Join(strings.Fields(r.Pattern), " ")) + "$"
	default:
		return nil, fmt.Errorf("%w: rule %q has unknown kind %q", common.ErrInvalidConfig, r.label(), r.Kind)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q: %w", common.ErrInvalidConfig, r.label(), err)
	}
	return re, nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range strings.TrimSpace(glob) {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
