// Package storage persists the correction log (SQLite) and trained model snapshots (bolt).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateCorrection(c *model.Correction) error {
	if c == nil {
		return fmt.Errorf("%w: correction", ErrNilParameter)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", common.ErrInvalidCorrection)
	}
	if strings.TrimSpace(c.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", common.ErrInvalidCorrection)
	}
	if model.CategoryKey(c.FinalCategory) == "" {
		return fmt.Errorf("%w: final category is required", common.ErrInvalidCorrection)
	}
	if c.RecordedAt.IsZero() {
		return fmt.Errorf("%w: timestamp is required", common.ErrInvalidCorrection)
	}
	return nil
}
