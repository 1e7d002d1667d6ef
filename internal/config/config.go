// Package config loads and validates bookkeeper configuration from viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/engine"
	"github.com/Veraticus/bookkeeper/internal/ensemble"
	"github.com/Veraticus/bookkeeper/internal/learning"
	"github.com/Veraticus/bookkeeper/internal/llm"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// EnvPrefix is the prefix for environment overrides, e.g. BOOKKEEPER_LLM_API_KEY.
const EnvPrefix = "BOOKKEEPER"

// Learning configures the correction loop.
type Learning struct {
	Retention     learning.RetentionPolicy
	MinCorpusSize int
	RetrainEvery  int
}

// Paths locates the on-disk state.
type Paths struct {
	CorrectionsDB string
	ModelStore    string
	RulesFile     string
	BackupDir     string
	Quicken       string
	Seeds         string
}

// Config is the validated application configuration.
type Config struct {
	Categories []string
	Paths      Paths
	LLM        llm.Config
	Ensemble   ensemble.Config
	Learning   Learning
	Engine     engine.Options
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	def := ensemble.DefaultConfig()
	v.SetDefault("ensemble.weights.rule", def.Weights[model.SourceRule])
	v.SetDefault("ensemble.weights.statistical", def.Weights[model.SourceStatistical])
	v.SetDefault("ensemble.weights.llm", def.Weights[model.SourceLLM])
	v.SetDefault("ensemble.rule_threshold", def.RuleThreshold)
	v.SetDefault("ensemble.agreement_bonus", def.AgreementBonus)
	v.SetDefault("ensemble.disagreement_penalty", def.DisagreementPenalty)
	v.SetDefault("ensemble.single_source_penalty", def.SingleSourcePenalty)
	v.SetDefault("ensemble.allow_any_order", false)

	v.SetDefault("learning.min_corpus_size", 20)
	v.SetDefault("learning.retrain_every", 1)
	v.SetDefault("learning.retention.max_examples", 0)
	v.SetDefault("learning.retention.max_age", time.Duration(0))

	v.SetDefault("llm.provider", llm.ProviderAnthropic)
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("llm.rate_limit", 50)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.cache_ttl", 15*time.Minute)
	v.SetDefault("llm.max_tokens", 200)

	eng := engine.DefaultOptions()
	v.SetDefault("engine.workers", eng.Workers)
	v.SetDefault("engine.auto_accept_threshold", eng.AutoAcceptThreshold)

	data := DataDir()
	v.SetDefault("paths.corrections_db", filepath.Join(data, "corrections.db"))
	v.SetDefault("paths.model_store", filepath.Join(data, "models.bolt"))
	v.SetDefault("paths.backup_dir", filepath.Join(data, "backups"))
	v.SetDefault("paths.rules_file", filepath.Join(ConfigDir(), "rules.yaml"))
}

// Load reads a Config out of v, applying defaults for anything unset, and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Categories: v.GetStringSlice("categories"),
		Ensemble: ensemble.Config{
			Weights: map[model.Source]float64{
				model.SourceRule:        v.GetFloat64("ensemble.weights.rule"),
				model.SourceStatistical: v.GetFloat64("ensemble.weights.statistical"),
				model.SourceLLM:         v.GetFloat64("ensemble.weights.llm"),
			},
			Scales:              loadScales(v),
			RuleThreshold:       v.GetFloat64("ensemble.rule_threshold"),
			AgreementBonus:      v.GetFloat64("ensemble.agreement_bonus"),
			DisagreementPenalty: v.GetFloat64("ensemble.disagreement_penalty"),
			SingleSourcePenalty: v.GetFloat64("ensemble.single_source_penalty"),
			AllowAnyOrder:       v.GetBool("ensemble.allow_any_order"),
		},
		Learning: Learning{
			MinCorpusSize: v.GetInt("learning.min_corpus_size"),
			RetrainEvery:  v.GetInt("learning.retrain_every"),
			Retention: learning.RetentionPolicy{
				MaxExamples: v.GetInt("learning.retention.max_examples"),
				MaxAge:      v.GetDuration("learning.retention.max_age"),
			},
		},
		LLM: llm.Config{
			Provider:    v.GetString("llm.provider"),
			APIKey:      v.GetString("llm.api_key"),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			Timeout:     v.GetDuration("llm.timeout"),
			CacheTTL:    v.GetDuration("llm.cache_ttl"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Temperature: v.GetFloat64("llm.temperature"),
		},
		Engine: engine.Options{
			Workers:             v.GetInt("engine.workers"),
			AutoAcceptThreshold: v.GetFloat64("engine.auto_accept_threshold"),
		},
		Paths: Paths{
			CorrectionsDB: ExpandPath(v.GetString("paths.corrections_db")),
			ModelStore:    ExpandPath(v.GetString("paths.model_store")),
			RulesFile:     ExpandPath(v.GetString("paths.rules_file")),
			BackupDir:     ExpandPath(v.GetString("paths.backup_dir")),
			Quicken:       ExpandPath(v.GetString("paths.quicken")),
			Seeds:         ExpandPath(v.GetString("paths.seeds")),
		},
	}

	// The key is usually supplied per provider through the environment.
	if cfg.LLM.APIKey == "" {
		key := providerKeyEnv(cfg.LLM.Provider)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
		cfg.LLM.APIKey = v.GetString(key)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := c.Ensemble.Validate(); err != nil {
		return err
	}
	if c.Learning.MinCorpusSize < 1 {
		return fmt.Errorf("%w: learning.min_corpus_size must be at least 1", common.ErrInvalidConfig)
	}
	if c.Learning.RetrainEvery < 0 {
		return fmt.Errorf("%w: learning.retrain_every must not be negative", common.ErrInvalidConfig)
	}
	if c.Learning.Retention.MaxExamples < 0 || c.Learning.Retention.MaxAge < 0 {
		return fmt.Errorf("%w: learning.retention limits must not be negative", common.ErrInvalidConfig)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("%w: engine.workers must be at least 1", common.ErrInvalidConfig)
	}
	if t := c.Engine.AutoAcceptThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: engine.auto_accept_threshold must be within [0,1], got %v", common.ErrInvalidConfig, t)
	}
	switch c.LLM.Provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini, llm.ProviderNone:
	default:
		return fmt.Errorf("%w: unsupported llm.provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.RateLimit < 0 || c.LLM.MaxRetries < 0 || c.LLM.Timeout < 0 {
		return fmt.Errorf("%w: llm limits must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// LLMEnabled reports whether an LLM source should be registered.
func (c Config) LLMEnabled() bool {
	return c.LLM.Provider != llm.ProviderNone && c.LLM.APIKey != ""
}

func loadScales(v *viper.Viper) map[model.Source]ensemble.Scale {
	scales := make(map[model.Source]ensemble.Scale)
	for _, source := range []model.Source{model.SourceRule, model.SourceStatistical, model.SourceLLM} {
		key := "ensemble.scales." + string(source)
		if !v.IsSet(key + ".max") {
			continue
		}
		scales[source] = ensemble.Scale{
			Min: v.GetFloat64(key + ".min"),
			Max: v.GetFloat64(key + ".max"),
		}
	}
	return scales
}

// providerKeyEnv names the provider's conventional key variable, lowercased for viper.
func providerKeyEnv(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return "openai_api_key"
	case llm.ProviderGemini:
		return "gemini_api_key"
	default:
		return "anthropic_api_key"
	}
}
