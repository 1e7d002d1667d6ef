package llm

import (
	"context"
	"time"
)

// Client is a provider transport: one system prompt, one user prompt, one text reply.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config holds configuration for the LLM classifier and its transport.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	MaxRetries  int
	RateLimit   int // requests per minute
	MaxTokens   int
	Temperature float64
}

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderNone      = "none"
)

const (
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultMaxTokens      = 200
	defaultTimeout        = 20 * time.Second
)
