package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter spaces provider calls to a requests-per-minute budget shared by every worker.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a limiter allowing requestsPerMinute with a burst of the same size.
// Zero means the default of 60; a negative value disables limiting.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute < 0 {
		return &rateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if requestsPerMinute == 0 {
		requestsPerMinute = 60
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &rateLimiter{limiter: rate.NewLimiter(rate.Every(every), requestsPerMinute)}
}

// wait blocks until a token is available or the context is canceled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter canceled: %w", err)
	}
	return nil
}

// tryAcquire attempts to acquire a token without blocking.
func (rl *rateLimiter) tryAcquire() bool {
	return rl.limiter.Allow()
}
