package ensemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// Combiner turns the outcomes of every source for one transaction into a decision. It is
// written against model.SourceOutcome only, so adding a source needs no change here.
type Combiner struct {
	cfg Config
}

// NewCombiner validates cfg and returns a combiner.
func NewCombiner(cfg Config) (*Combiner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Combiner{cfg: cfg}, nil
}

// Config returns the active policy.
func (c *Combiner) Config() Config {
	return c.cfg
}

// scored is a present suggestion with its normalized confidence and weight.
type scored struct {
	suggestion model.CategorySuggestion
	norm       float64
	weight     float64
}

// group collects the suggestions naming one category.
type group struct {
	key     string
	label   string
	members []scored
}

func (g *group) support() float64 {
	var s float64
	for _, m := range g.members {
		s += m.weight * m.norm
	}
	return s
}

func (g *group) mean() float64 {
	var s float64
	for _, m := range g.members {
		s += m.norm
	}
	return s / float64(len(g.members))
}

// weightedMean falls back to the plain mean when every weight is zero.
func weightedMean(members []scored) float64 {
	var num, den float64
	for _, m := range members {
		num += m.weight * m.norm
		den += m.weight
	}
	if den == 0 {
		var s float64
		for _, m := range members {
			s += m.norm
		}
		return s / float64(len(members))
	}
	return num / den
}

// groups is ordered best first: most members, then highest weighted support, then key.
type groups []*group

func (g groups) Len() int      { return len(g) }
func (g groups) Swap(i, j int) { g[i], g[j] = g[j], g[i] }
func (g groups) Less(i, j int) bool {
	if len(g[i].members) != len(g[j].members) {
		return len(g[i].members) > len(g[j].members)
	}
	si, sj := g[i].support(), g[j].support()
	if si != sj {
		return si > sj
	}
	return g[i].key < g[j].key
}

// Combine merges outcomes into a decision. It never fails: sources that errored are listed
// as failures, abstentions carry no weight, and no present suggestion yields
// StatusNoSuggestion.
func (c *Combiner) Combine(transactionID string, outcomes []model.SourceOutcome) model.EnsembleDecision {
	ordered := make([]model.SourceOutcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return sourceRank(ordered[i].Source) < sourceRank(ordered[j].Source)
	})

	decision := model.EnsembleDecision{TransactionID: transactionID}
	var present []scored
	var abstained []model.Source

	for _, o := range ordered {
		switch {
		case o.Failed():
			decision.Failures = append(decision.Failures, model.SourceFailure{Source: o.Source, Reason: o.Err.Error()})
		case o.Abstained():
			abstained = append(abstained, o.Source)
		default:
			s := *o.Suggestion
			if s.Source == "" {
				s.Source = o.Source
			}
			present = append(present, scored{
				suggestion: s,
				norm:       c.cfg.normalize(s.Source, s.Confidence),
				weight:     c.cfg.weight(s.Source),
			})
		}
	}

	for _, p := range present {
		decision.Contributions = append(decision.Contributions, p.suggestion)
	}

	if len(present) == 0 {
		decision.Status = model.StatusNoSuggestion
		decision.Agreement = model.AgreementNone
		decision.Rationale = c.rationale("no source produced a suggestion", nil, nil, decision.Failures, abstained)
		return decision
	}

	ranked := c.group(present)
	winner := ranked[0]
	var headline string

	if rule, ok := c.precedentRule(present); ok {
		winner = findGroup(ranked, model.CategoryKey(rule.suggestion.Category))
		decision.Agreement = model.AgreementPrecedence
		confidence := rule.norm
		switch {
		case len(present) == 1:
			confidence *= 1 - c.cfg.SingleSourcePenalty
			headline = fmt.Sprintf("rule precedence: rule confidence %.2f exceeds threshold %.2f; only source, single-source penalty applied",
				rule.suggestion.Confidence, c.cfg.RuleThreshold)
		case len(winner.members) > 1:
			confidence += c.cfg.AgreementBonus
			headline = fmt.Sprintf("rule precedence: rule confidence %.2f exceeds threshold %.2f; %d sources agree, bonus applied",
				rule.suggestion.Confidence, c.cfg.RuleThreshold, len(winner.members))
		default:
			headline = fmt.Sprintf("rule precedence: rule confidence %.2f exceeds threshold %.2f; other sources overruled",
				rule.suggestion.Confidence, c.cfg.RuleThreshold)
		}
		decision.Confidence = clamp(confidence)
	} else {
		switch {
		case len(present) == 1:
			decision.Agreement = model.AgreementSingle
			decision.Confidence = clamp(winner.members[0].norm * (1 - c.cfg.SingleSourcePenalty))
			headline = fmt.Sprintf("only %s produced a suggestion; single-source penalty applied", winner.members[0].suggestion.Source)
		case len(winner.members) > 1:
			decision.Agreement = model.AgreementMajority
			if len(winner.members) == len(present) {
				decision.Agreement = model.AgreementUnanimous
			}
			base := weightedMean(winner.members)
			if m := winner.mean(); m > base {
				base = m
			}
			decision.Confidence = clamp(base + c.cfg.AgreementBonus)
			headline = fmt.Sprintf("%d of %d contributing sources agree on %s; agreement bonus applied",
				len(winner.members), len(present), winner.label)
		default:
			decision.Agreement = model.AgreementConflict
			decision.Confidence = clamp(weightedMean(present) * (1 - c.cfg.DisagreementPenalty))
			headline = fmt.Sprintf("DISAGREEMENT: %d sources named %d different categories; weighted average penalized, review carefully",
				len(present), len(ranked))
		}
	}

	decision.Status = model.StatusSuggested
	decision.Category = winner.label
	decision.Rationale = c.rationale(headline, present, winner, decision.Failures, abstained)
	return decision
}

// precedentRule returns the rule suggestion whose native confidence clears the threshold.
func (c *Combiner) precedentRule(present []scored) (scored, bool) {
	for _, p := range present {
		if p.suggestion.Source == model.SourceRule && p.suggestion.Confidence > c.cfg.RuleThreshold {
			return p, true
		}
	}
	return scored{}, false
}

// group buckets present suggestions by category key and ranks the buckets. A bucket takes
// the spelling of its first member in source order.
func (c *Combiner) group(present []scored) groups {
	index := make(map[string]*group)
	var out groups
	for _, p := range present {
		key := model.CategoryKey(p.suggestion.Category)
		g, ok := index[key]
		if !ok {
			g = &group{key: key, label: strings.TrimSpace(p.suggestion.Category)}
			index[key] = g
			out = append(out, g)
		}
		g.members = append(g.members, p)
	}
	sort.Sort(out)
	return out
}

func findGroup(ranked groups, key string) *group {
	for _, g := range ranked {
		if g.key == key {
			return g
		}
	}
	return ranked[0]
}

// rationale renders the audit trail: headline, every contribution, dissent, failures and
// abstentions.
func (c *Combiner) rationale(headline string, present []scored, winner *group, failures []model.SourceFailure, abstained []model.Source) string {
	parts := []string{headline}

	if len(present) > 0 {
		contributed := make([]string, 0, len(present))
		for _, p := range present {
			contributed = append(contributed, fmt.Sprintf("%s=%s (%.2f)", p.suggestion.Source, p.suggestion.Category, p.suggestion.Confidence))
		}
		parts = append(parts, "contributed: "+strings.Join(contributed, ", "))
	}

	if winner != nil {
		var dissent []string
		for _, p := range present {
			if model.CategoryKey(p.suggestion.Category) != winner.key {
				dissent = append(dissent, fmt.Sprintf("%s suggested %s", p.suggestion.Source, p.suggestion.Category))
			}
		}
		if len(dissent) > 0 {
			parts = append(parts, "dissent: "+strings.Join(dissent, ", "))
		}
	}

	if len(failures) > 0 {
		failed := make([]string, 0, len(failures))
		for _, f := range failures {
			failed = append(failed, fmt.Sprintf("%s (%s)", f.Source, f.Reason))
		}
		parts = append(parts, "failed: "+strings.Join(failed, ", "))
	}

	if len(abstained) > 0 {
		names := make([]string, 0, len(abstained))
		for _, s := range abstained {
			names = append(names, string(s))
		}
		parts = append(parts, "abstained: "+strings.Join(names, ", "))
	}

	return strings.Join(parts, "; ")
}

// sourceRank orders the built-in sources first, then any others by name.
func sourceRank(s model.Source) string {
	switch s {
	case model.SourceRule:
		return "0"
	case model.SourceStatistical:
		return "1"
	case model.SourceLLM:
		return "2"
	default:
		return "3" + string(s)
	}
}
