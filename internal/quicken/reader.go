package quicken

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// Reader is a read-only view of a Quicken file.
type Reader struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

var _ service.TransactionSource = (*Reader)(nil)

// OpenReader opens the Quicken file at path read-only.
func OpenReader(path string, logger *slog.Logger) (*Reader, error) {
	db, dbPath, err := open(path, true)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db, path: dbPath, logger: common.OrDefault(logger)}, nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

const transactionQuery = `
	SELECT
		t.Z_PK,
		t.ZENTEREDDATE,
		t.ZPOSTEDDATE,
		t.ZAMOUNT,
		t.ZNOTE,
		t.ZREFERENCE,
		t.ZCHECKNUMBER,
		t.ZACCOUNT,
		p.ZNAME,
		c.ZNAME,
		a.ZNAME
	FROM ZTRANSACTION t
	LEFT JOIN ZUSERPAYEE p ON t.ZUSERPAYEE = p.Z_PK
	LEFT JOIN ZCASHFLOWTRANSACTIONENTRY cfte ON cfte.ZPARENT = t.Z_PK
	LEFT JOIN ZTAG c ON cfte.ZCATEGORYTAG = c.Z_PK
	LEFT JOIN ZACCOUNT a ON t.ZACCOUNT = a.Z_PK
	WHERE t.ZAMOUNT IS NOT NULL`

// ReadTransactions returns transactions newest first. Dates filter on the entered date; the
// transaction date is the posted date when present. A split transaction is returned once,
// with the category of its first entry.
func (r *Reader) ReadTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	query := transactionQuery
	var args []any

	if len(filter.AccountTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.AccountTypes)), ",")
		query += " AND a.ZTYPENAME IN (" + placeholders + ")"
		for _, t := range filter.AccountTypes {
			args = append(args, t)
		}
	}
	if filter.StartDate != nil {
		query += " AND t.ZENTEREDDATE >= ?"
		args = append(args, ToCoreData(*filter.StartDate))
	}
	if filter.EndDate != nil {
		query += " AND t.ZENTEREDDATE <= ?"
		args = append(args, ToCoreData(*filter.EndDate))
	}
	query += " ORDER BY t.ZENTEREDDATE DESC, t.Z_PK, cfte.Z_PK"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Transaction
	seen := make(map[int64]bool)
	for rows.Next() {
		var (
			id                           int64
			entered, posted              sql.NullFloat64
			amount                       float64
			note, reference, check       sql.NullString
			account                      sql.NullInt64
			payee, category, accountName sql.NullString
		)
		if err := rows.Scan(&id, &entered, &posted, &amount, &note, &reference, &check,
			&account, &payee, &category, &accountName); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		txn := model.Transaction{
			ID:          strconv.FormatInt(id, 10),
			Payee:       payee.String,
			Amount:      amount,
			Category:    category.String,
			Memo:        note.String,
			AccountName: accountName.String,
			Reference:   reference.String,
			CheckNumber: check.String,
		}
		if account.Valid {
			txn.AccountID = strconv.FormatInt(account.Int64, 10)
		}
		switch {
		case posted.Valid:
			txn.Date = FromCoreData(posted.Float64)
		case entered.Valid:
			txn.Date = FromCoreData(entered.Float64)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	r.logger.Debug("Read Quicken transactions", "count", len(out), "path", r.path)
	return out, nil
}

// Categories returns the user-assignable categories, sorted by name.
func (r *Reader) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ZNAME FROM ZTAG WHERE ZUSERASSIGNABLE = 1 ORDER BY ZNAME`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if name.Valid && strings.TrimSpace(name.String) != "" {
			names = append(names, name.String)
		}
	}
	return names, rows.Err()
}

// Accounts returns account names grouped by account type.
func (r *Reader) Accounts(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ZTYPENAME, ZNAME
		FROM ZACCOUNT
		WHERE ZTYPENAME IS NOT NULL
		ORDER BY ZTYPENAME, ZNAME
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	accounts := make(map[string][]string)
	for rows.Next() {
		var typ, name sql.NullString
		if err := rows.Scan(&typ, &name); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts[typ.String] = append(accounts[typ.String], name.String)
	}
	return accounts, rows.Err()
}
