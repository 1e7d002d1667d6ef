package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Veraticus/bookkeeper/internal/common"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore is the durable correction log.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. Call Migrate before use.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		logger: common.OrDefault(logger),
	}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
