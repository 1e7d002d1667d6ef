package quicken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// cashflowEntity is the Core Data entity id of ZCASHFLOWTRANSACTIONENTRY rows.
const cashflowEntity = 80

// WriterOptions configures a Writer.
type WriterOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	// BackupDir receives a timestamped copy of the Quicken file before the first mutation.
	// Empty disables the backup.
	BackupDir string
}

// Writer persists accepted categories into a Quicken file.
type Writer struct {
	db         *sql.DB
	logger     *slog.Logger
	now        func() time.Time
	source     string
	backupDir  string
	lastBackup string
	mu         sync.Mutex
}

var _ service.CategoryWriter = (*Writer)(nil)

// OpenWriter opens the Quicken file at path for writing.
func OpenWriter(path string, opts WriterOptions) (*Writer, error) {
	db, _, err := open(path, false)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		db:        db,
		source:    path,
		backupDir: opts.BackupDir,
		logger:    common.OrDefault(opts.Logger),
		now:       now,
	}, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

// LastBackup returns the path of the backup taken by the latest update, if any.
func (w *Writer) LastBackup() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBackup
}

// UpdateCategories sets the category of each transaction id. All updates commit together.
// A transaction id that is not numeric, or a category Quicken does not know, reports false
// and leaves that transaction unchanged.
func (w *Writer) UpdateCategories(ctx context.Context, updates map[string]string) (map[string]bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	results := make(map[string]bool, len(updates))
	if len(updates) == 0 {
		return results, nil
	}

	if w.backupDir != "" {
		path, err := Backup(w.source, w.backupDir, w.now())
		if err != nil {
			return nil, fmt.Errorf("refusing to write without a backup: %w", err)
		}
		w.lastBackup = path
		w.logger.Info("Quicken backup created", "path", path)
	}

	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		ok, err := updateOne(ctx, tx, id, updates[id])
		if err != nil {
			return nil, fmt.Errorf("failed to update transaction %s: %w", id, err)
		}
		results[id] = ok
		if !ok {
			w.logger.Warn("Category update skipped", "transaction_id", id, "category", updates[id])
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit category updates: %w", err)
	}
	return results, nil
}

func updateOne(ctx context.Context, tx *sql.Tx, id, category string) (bool, error) {
	pk, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}

	var categoryID int64
	err = tx.QueryRowContext(ctx,
		`SELECT Z_PK FROM ZTAG WHERE ZNAME = ? AND ZUSERASSIGNABLE = 1`, category).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var amount sql.NullFloat64
	err = tx.QueryRowContext(ctx, `SELECT ZAMOUNT FROM ZTRANSACTION WHERE Z_PK = ?`, pk).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	entryID, err := cashflowEntry(ctx, tx, pk, amount.Float64)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ZCASHFLOWTRANSACTIONENTRY SET ZCATEGORYTAG = ? WHERE Z_PK = ?`, categoryID, entryID); err != nil {
		return false, err
	}
	return true, nil
}

// cashflowEntry returns the first entry of a transaction, creating one when missing.
func cashflowEntry(ctx context.Context, tx *sql.Tx, parent int64, amount float64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT Z_PK FROM ZCASHFLOWTRANSACTIONENTRY WHERE ZPARENT = ? ORDER BY Z_PK LIMIT 1`, parent).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var maxPK sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(Z_PK) FROM ZCASHFLOWTRANSACTIONENTRY`).Scan(&maxPK); err != nil {
		return 0, err
	}
	id = maxPK.Int64 + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ZCASHFLOWTRANSACTIONENTRY (Z_PK, Z_ENT, Z_OPT, ZPARENT, ZAMOUNT, ZSEQUENCENUMBER)
		VALUES (?, ?, 1, ?, ?, 0)
	`, id, cashflowEntity, parent, amount); err != nil {
		return 0, err
	}
	return id, nil
}
