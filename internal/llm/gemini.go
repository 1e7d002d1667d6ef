package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Veraticus/bookkeeper/internal/common"
)

// geminiClient implements Client on Google's Gemini API.
type geminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func newGeminiClient(ctx context.Context, cfg Config) (*geminiClient, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiClient{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Complete sends the system and user prompt as one text turn. The system text is prepended
// because not every Gemini model accepts a separate system instruction.
func (c *geminiClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	text := prompt
	if system != "" {
		text = system + "\n\n" + prompt
	}

	resp, err := c.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", classifyTransport(fmt.Errorf("gemini API error: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no response from Gemini API", common.ErrMalformedResponse)
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out.WriteString(string(t))
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: no text in Gemini response", common.ErrMalformedResponse)
	}
	return out.String(), nil
}

// Close releases the underlying gRPC connection.
func (c *geminiClient) Close() error {
	return c.client.Close()
}
