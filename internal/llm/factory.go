package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// NewClient creates a raw provider transport from cfg.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s API key is required", common.ErrMissingConfig, cfg.Provider)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		return newAnthropicClient(cfg), nil
	case ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderGemini:
		return newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}
