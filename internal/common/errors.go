// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Classification errors. A source failing with one of these degrades to an absent
	// suggestion for that transaction only.
	ErrTransient         = errors.New("transient classification failure")
	ErrMalformedResponse = errors.New("malformed classification response")
	ErrUnknownSource     = errors.New("unknown classification source")

	// ErrMalformedTransaction is the only per-transaction fatal error: no feature bundle can be built.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// Learning errors.
	ErrCorpusTooSmall    = errors.New("training corpus too small")
	ErrInvalidCorrection = errors.New("invalid correction")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) {
		return true
	}

	// A deadline belongs to the caller's budget; retrying inside it cannot succeed.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// IsSourceFailure reports whether err is a degradable per-source failure rather than a
// structural one.
func IsSourceFailure(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformedResponse)
}
