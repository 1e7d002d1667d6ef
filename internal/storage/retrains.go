package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/bookkeeper/internal/service"
)

// RecordRetrain appends one retrain attempt to the audit table.
func (s *SQLiteStore) RecordRetrain(ctx context.Context, run service.RetrainRun) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(run.Result, "result"); err != nil {
		return err
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrain_runs (result, fingerprint, examples, categories, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.Result, run.Fingerprint, run.Examples, run.Categories, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record retrain run: %w", err)
	}
	return nil
}

// ListRetrains returns the most recent retrain attempts, newest first. A limit of zero or
// less returns all of them.
func (s *SQLiteStore) ListRetrains(ctx context.Context, limit int) ([]service.RetrainRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result, fingerprint, examples, categories, created_at
		FROM retrain_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query retrain runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []service.RetrainRun
	for rows.Next() {
		var run service.RetrainRun
		if err := rows.Scan(&run.Result, &run.Fingerprint, &run.Examples, &run.Categories, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retrain run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retrain runs: %w", err)
	}
	return runs, nil
}
