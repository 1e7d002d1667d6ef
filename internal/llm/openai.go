package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// openAIClient implements Client on the OpenAI chat completions API.
type openAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func newOpenAIClient(cfg Config) *openAIClient {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// Complete sends a system and user message and returns the first choice.
func (c *openAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai API error: %w", err))
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", classifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai request error: %w", err))
		}
		return "", classifyTransport(fmt.Errorf("openai request failed: %w", err))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: openai returned no choices", common.ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
