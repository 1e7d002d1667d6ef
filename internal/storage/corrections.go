package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// AppendCorrection inserts c. The row id becomes its sequence number, so the log order is
// the insertion order even when timestamps collide.
func (s *SQLiteStore) AppendCorrection(ctx context.Context, c *model.Correction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCorrection(c); err != nil {
		return err
	}

	features, err := json.Marshal(c.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, transaction_id, suggested_category, final_category, features, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.TransactionID, c.SuggestedCategory, c.FinalCategory, string(features),
		c.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert correction: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read correction sequence: %w", err)
	}
	c.Sequence = seq
	return nil
}

// ListCorrections returns the whole log in sequence order.
func (s *SQLiteStore) ListCorrections(ctx context.Context) ([]model.Correction, error) {
	return s.queryCorrections(ctx, `
		SELECT sequence, id, transaction_id, suggested_category, final_category, features, recorded_at
		FROM corrections
		ORDER BY sequence
	`)
}

// CorrectionsForTransaction returns every correction recorded for one transaction, oldest
// first.
func (s *SQLiteStore) CorrectionsForTransaction(ctx context.Context, transactionID string) ([]model.Correction, error) {
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}
	return s.queryCorrections(ctx, `
		SELECT sequence, id, transaction_id, suggested_category, final_category, features, recorded_at
		FROM corrections
		WHERE transaction_id = ?
		ORDER BY sequence
	`, transactionID)
}

func (s *SQLiteStore) queryCorrections(ctx context.Context, query string, args ...any) ([]model.Correction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Correction
	for rows.Next() {
		var (
			c          model.Correction
			features   string
			recordedAt string
		)
		if err := rows.Scan(&c.Sequence, &c.ID, &c.TransactionID, &c.SuggestedCategory,
			&c.FinalCategory, &features, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &c.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for correction %s: %w", c.ID, err)
		}
		if c.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for correction %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate corrections: %w", err)
	}
	return out, nil
}
