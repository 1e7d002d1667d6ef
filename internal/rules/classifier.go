package rules

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// Classifier evaluates rules in registration order; the first match wins. More specific rules
// must therefore be registered before general ones.
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles rules. When taxonomy is non-nil every rule category must belong to
// it and is rewritten to the taxonomy's spelling.
func NewClassifier(rules []Rule, taxonomy *model.Taxonomy) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}

	for _, r := range rules {
		re, err := r.compile()
		if err != nil {
			return nil, err
		}
		if taxonomy != nil {
			canonical, ok := taxonomy.Canonical(r.Category)
			if !ok {
				return nil, fmt.Errorf("%w: rule %q targets unknown category %q", common.ErrInvalidConfig, r.label(), r.Category)
			}
			r.Category = canonical
		}
		c.rules = append(c.rules, compiledRule{Rule: r, re: re})
	}

	return c, nil
}

// ruleFile is the on-disk YAML layout.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads an ordered rule list from a YAML file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ordered rule list from YAML.
func Parse(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rules: %w", common.ErrInvalidConfig, err)
	}
	return f.Rules, nil
}

// Source implements service.Classifier.
func (c *Classifier) Source() model.Source {
	return model.SourceRule
}

// Len returns the number of rules.
func (c *Classifier) Len() int {
	return len(c.rules)
}

// Classify returns the first matching rule's category, or abstains.
func (c *Classifier) Classify(_ context.Context, in service.Input) (model.CategorySuggestion, bool, error) {
	rule, ok := c.Match(in)
	if !ok {
		return model.CategorySuggestion{}, false, nil
	}

	return model.CategorySuggestion{
		Category:   rule.Category,
		Confidence: rule.confidence(),
		Source:     model.SourceRule,
		Rationale:  fmt.Sprintf("rule %q matched pattern %q", rule.label(), rule.Pattern),
	}, true, nil
}

// Match returns the first rule matching the input.
func (c *Classifier) Match(in service.Input) (Rule, bool) {
	targets := matchTargets(in)
	for _, r := range c.rules {
		if !matchesDirection(r.Rule, in.Features.Direction) || !matchesAmount(r.Rule, in.Features.AbsAmount) {
			continue
		}
		for _, target := range targets {
			if r.re.MatchString(target) {
				return r.Rule, true
			}
		}
	}
	return Rule{}, false
}

// matchTargets lists the payee spellings a pattern is tried against: the raw payee as the
// bank printed it, then the normalized form.
func matchTargets(in service.Input) []string {
	targets := make([]string, 0, 2)
	if raw := strings.Join(strings.Fields(in.Transaction.Payee), " "); raw != "" {
		targets = append(targets, raw)
	}
	if norm := in.Features.NormalizedPayee; norm != "" && norm != model.UnknownPayee {
		targets = append(targets, norm)
	}
	return targets
}

func matchesDirection(r Rule, direction string) bool {
	return r.Direction == "" || r.Direction == direction
}

func matchesAmount(r Rule, abs float64) bool {
	if r.AmountMin != nil && abs < *r.AmountMin {
		return false
	}
	if r.AmountMax != nil && abs > *r.AmountMax {
		return false
	}
	return true
}
