package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/bookkeeper/internal/service"
)

var (
	// ErrRateLimit indicates that the provider rejected the call for rate reasons.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

type backoff struct {
	opts  service.RetryOptions
	delay time.Duration
}

func newBackoff(opts service.RetryOptions) *backoff {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	return &backoff{opts: opts, delay: opts.InitialDelay}
}

// next returns how long to wait after err and advances the schedule. A rate-limited
// provider gets the longest wait straight away.
func (b *backoff) next(err error) time.Duration {
	if errors.Is(err, ErrRateLimit) {
		b.delay = b.opts.MaxDelay
	}
	wait := b.delay
	b.delay = min(time.Duration(float64(b.delay)*b.opts.Multiplier), b.opts.MaxDelay)
	return wait
}

// WithRetry runs operation until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	b := newBackoff(opts)
	attempts := b.opts.MaxAttempts

	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempts, err)
		}

		wait := b.next(err)
		slog.Warn("Operation failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
