// Package ensemble merges per-source category suggestions into one decision.
package ensemble

import (
	"fmt"
	"math"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// fallbackWeight applies to sources without a configured weight.
const fallbackWeight = 0.5

// Scale is a source's native confidence range. Confidences are mapped linearly from
// [Min, Max] onto [0, 1] and clamped.
type Scale struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Config holds the combiner's tunable policy.
type Config struct {
	Weights             map[model.Source]float64 `mapstructure:"weights"`
	Scales              map[model.Source]Scale   `mapstructure:"scales"`
	RuleThreshold       float64                  `mapstructure:"rule_threshold"`
	AgreementBonus      float64                  `mapstructure:"agreement_bonus"`
	DisagreementPenalty float64                  `mapstructure:"disagreement_penalty"`
	SingleSourcePenalty float64                  `mapstructure:"single_source_penalty"`
	AllowAnyOrder       bool                     `mapstructure:"allow_any_order"`
}

// DefaultConfig returns the stock policy: rules outrank the statistical model, which
// outranks the LLM.
func DefaultConfig() Config {
	return Config{
		Weights: map[model.Source]float64{
			model.SourceRule:        1.0,
			model.SourceStatistical: 0.7,
			model.SourceLLM:         0.5,
		},
		Scales:              map[model.Source]Scale{},
		RuleThreshold:       0.9,
		AgreementBonus:      0.1,
		DisagreementPenalty: 0.15,
		SingleSourcePenalty: 0.1,
	}
}

// Validate checks that every magnitude is usable.
func (c Config) Validate() error {
	for source, w := range c.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight for %s must be a non-negative number, got %v", common.ErrInvalidConfig, source, w)
		}
	}
	if !c.AllowAnyOrder {
		rule, stat, llm := c.weight(model.SourceRule), c.weight(model.SourceStatistical), c.weight(model.SourceLLM)
		if rule < stat || stat < llm {
			return fmt.Errorf("%w: weights must satisfy rule >= statistical >= llm (got %.2f, %.2f, %.2f); set allow_any_order to override",
				common.ErrInvalidConfig, rule, stat, llm)
		}
	}
	for source, s := range c.Scales {
		if !(s.Max > s.Min) {
			return fmt.Errorf("%w: scale for %s needs max > min, got [%v, %v]", common.ErrInvalidConfig, source, s.Min, s.Max)
		}
	}

	unit := []struct {
		name  string
		value float64
	}{
		{"rule_threshold", c.RuleThreshold},
		{"agreement_bonus", c.AgreementBonus},
		{"disagreement_penalty", c.DisagreementPenalty},
		{"single_source_penalty", c.SingleSourcePenalty},
	}
	for _, u := range unit {
		if u.value < 0 || u.value > 1 || math.IsNaN(u.value) {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", common.ErrInvalidConfig, u.name, u.value)
		}
	}
	return nil
}

func (c Config) weight(source model.Source) float64 {
	if w, ok := c.Weights[source]; ok {
		return w
	}
	return fallbackWeight
}

// normalize maps a native confidence onto [0,1].
func (c Config) normalize(source model.Source, confidence float64) float64 {
	if math.IsNaN(confidence) {
		return 0
	}
	s, ok := c.Scales[source]
	if !ok || !(s.Max > s.Min) {
		return clamp(confidence)
	}
	return clamp((confidence - s.Min) / (s.Max - s.Min))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
