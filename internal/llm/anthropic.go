package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// anthropicClient implements Client on the Anthropic Messages API.
type anthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func newAnthropicClient(cfg Config) *anthropicClient {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	// Retries are owned by the classifier so they share its budget and logging.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: cfg.Temperature,
	}
}

// Complete sends one message and concatenates the text blocks of the reply.
func (c *anthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
		}
		return "", classifyTransport(fmt.Errorf("anthropic request failed: %w", err))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: no text content in anthropic response", common.ErrMalformedResponse)
	}
	return text.String(), nil
}

// classifyStatus marks provider errors for WithRetry: 429 is a rate limit, 408 and 5xx are
// retryable, everything else is final.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return &common.RetryableError{Err: err, Retryable: false}
	}
}

// classifyTransport marks errors without an HTTP status. Network failures are retryable;
// context expiry is not.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &common.RetryableError{Err: err, Retryable: true}
}
