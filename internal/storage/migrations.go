package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Correction log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS corrections (
					sequence INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT UNIQUE NOT NULL,
					transaction_id TEXT NOT NULL,
					suggested_category TEXT NOT NULL DEFAULT '',
					final_category TEXT NOT NULL,
					features TEXT NOT NULL,
					recorded_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_corrections_transaction ON corrections(transaction_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Make the correction log append-only",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TRIGGER corrections_no_update
				BEFORE UPDATE ON corrections
				BEGIN
					SELECT RAISE(ABORT, 'corrections are append-only');
				END`,
				`CREATE TRIGGER corrections_no_delete
				BEFORE DELETE ON corrections
				BEGIN
					SELECT RAISE(ABORT, 'corrections are append-only');
				END`,
			)
		},
	},
	{
		Version:     3,
		Description: "Retrain history for auditing",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS retrain_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					result TEXT NOT NULL,
					fingerprint TEXT NOT NULL DEFAULT '',
					examples INTEGER NOT NULL DEFAULT 0,
					categories INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			)
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		s.logger.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
