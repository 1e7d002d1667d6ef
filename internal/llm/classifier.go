package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

const systemPrompt = "You are a financial transaction classifier. Choose exactly one category from the list you are given, " +
	"or abstain when the details are not enough to decide. Respond only in the exact format requested."

// Classifier implements service.Classifier on top of a provider transport. Every failure
// it returns wraps common.ErrTransient or common.ErrMalformedResponse.
type Classifier struct {
	client    Client
	cache     *suggestionCache
	limiter   *rateLimiter
	logger    *slog.Logger
	retryOpts service.RetryOptions
	timeout   time.Duration
}

// New creates the provider transport named by cfg and wraps it in a Classifier.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewClassifier(client, cfg, logger), nil
}

// NewClassifier wraps client. Zero values in cfg fall back to defaults.
func NewClassifier(client Client, cfg Config, logger *slog.Logger) *Classifier {
	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = 500 * time.Millisecond
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Classifier{
		client:    client,
		cache:     newSuggestionCache(cfg.CacheTTL),
		limiter:   newRateLimiter(cfg.RateLimit),
		logger:    common.OrDefault(logger),
		retryOpts: retryOpts,
		timeout:   timeout,
	}
}

// Source implements service.Classifier.
func (c *Classifier) Source() model.Source {
	return model.SourceLLM
}

// Classify asks the model for one category. The whole call, including rate-limit waits and
// retries, is bounded by the configured timeout.
func (c *Classifier) Classify(ctx context.Context, in service.Input) (model.CategorySuggestion, bool, error) {
	key := in.Transaction.Fingerprint()
	if cached, found := c.cache.get(key); found {
		c.logger.Debug("LLM cache hit", "transaction_id", in.Transaction.ID, "cache_entries", c.cache.size())
		if cached == nil {
			return model.CategorySuggestion{}, false, nil
		}
		return *cached, true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !c.limiter.tryAcquire() {
		c.logger.Debug("Waiting for LLM rate limit", "transaction_id", in.Transaction.ID)
		if err := c.limiter.wait(callCtx); err != nil {
			return model.CategorySuggestion{}, false, fmt.Errorf("%w: %w", common.ErrTransient, err)
		}
	}

	prompt := buildPrompt(in)
	var content string
	err := common.WithRetry(callCtx, func() error {
		c.logger.Debug("Requesting LLM classification", "transaction_id", in.Transaction.ID)
		var callErr error
		content, callErr = c.client.Complete(callCtx, systemPrompt, prompt)
		return callErr
	}, c.retryOpts)
	if err != nil {
		if errors.Is(err, common.ErrMalformedResponse) {
			return model.CategorySuggestion{}, false, err
		}
		return model.CategorySuggestion{}, false, fmt.Errorf("%w: %w", common.ErrTransient, err)
	}

	r, err := parseReply(content)
	if err != nil {
		return model.CategorySuggestion{}, false, err
	}
	if r.Abstain {
		c.cache.set(key, nil)
		return model.CategorySuggestion{}, false, nil
	}

	category := r.Category
	if in.Taxonomy != nil {
		canonical, ok := in.Taxonomy.Canonical(category)
		if !ok {
			return model.CategorySuggestion{}, false, fmt.Errorf("%w: category %q is not in the taxonomy", common.ErrMalformedResponse, category)
		}
		category = canonical
	}

	rationale := r.Rationale
	if rationale == "" {
		rationale = "language model classification"
	}
	suggestion := model.CategorySuggestion{
		Category:   category,
		Confidence: r.Confidence,
		Source:     model.SourceLLM,
		Rationale:  rationale,
	}
	c.cache.set(key, &suggestion)

	return suggestion, true, nil
}

// buildPrompt describes the transaction, its features and payee history, and lists the
// allowed categories.
func buildPrompt(in service.Input) string {
	txn := in.Transaction
	var details strings.Builder
	fmt.Fprintf(&details, "Payee: %s\n", txn.Payee)
	fmt.Fprintf(&details, "Amount: %.2f\n", txn.Amount)
	if !txn.Date.IsZero() {
		fmt.Fprintf(&details, "Date: %s\n", txn.Date.Format("2006-01-02"))
	}
	if txn.Memo != "" {
		fmt.Fprintf(&details, "Memo: %s\n", txn.Memo)
	}
	if txn.AccountName != "" {
		fmt.Fprintf(&details, "Account: %s\n", txn.AccountName)
	}
	if txn.CheckNumber != "" {
		fmt.Fprintf(&details, "Check Number: %s\n", txn.CheckNumber)
	}
	if in.Features.NormalizedPayee != "" {
		fmt.Fprintf(&details, "Normalized payee: %s\n", in.Features.NormalizedPayee)
	}
	if len(in.Features.History) > 0 {
		cats := make([]string, 0, len(in.Features.History))
		for cat := range in.Features.History {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		shares := make([]string, 0, len(cats))
		for _, cat := range cats {
			shares = append(shares, fmt.Sprintf("%s %.0f%%", cat, in.Features.History[cat]*100))
		}
		fmt.Fprintf(&details, "Past categories for this payee (%d transactions): %s\n",
			in.Features.HistoryCount, strings.Join(shares, ", "))
	}

	var categories strings.Builder
	for _, name := range in.Taxonomy.Names() {
		fmt.Fprintf(&categories, "- %s\n", name)
	}

	return fmt.Sprintf(`Classify this financial transaction into exactly one of the categories below.

Categories:
%s
Transaction:
%s
Respond with a single JSON object:
{"category": "<one category from the list>", "confidence": <0.0-1.0>, "rationale": "<one short sentence>"}

If the details are not enough to choose, respond with:
{"abstain": true, "rationale": "<why>"}`,
		categories.String(), details.String())
}
