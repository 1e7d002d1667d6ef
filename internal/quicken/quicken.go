// Package quicken reads transactions from, and writes categories back to, a Quicken for Mac
// data file. Quicken stores its data as a Core Data SQLite database named "data" inside the
// .quicken package directory.
package quicken

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Veraticus/bookkeeper/internal/common"
)

// CoreDataEpoch is 2001-01-01T00:00:00Z in Unix seconds. Core Data timestamps count
// seconds from there.
const CoreDataEpoch = 978307200

// databaseName is the SQLite file inside a .quicken package.
const databaseName = "data"

// FromCoreData converts a Core Data timestamp to UTC time.
func FromCoreData(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec)+CoreDataEpoch, int64(frac*1e9)).UTC()
}

// ToCoreData converts t to a Core Data timestamp.
func ToCoreData(t time.Time) float64 {
	return float64(t.UnixNano())/1e9 - CoreDataEpoch
}

// FindDatabase returns the SQLite file for a Quicken path: the "data" file inside a package
// directory, or the path itself when it is a plain file.
func FindDatabase(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", common.ErrNotFound, path, err)
	}
	if !info.IsDir() {
		return path, nil
	}

	db := filepath.Join(path, databaseName)
	if _, err := os.Stat(db); err != nil {
		return "", fmt.Errorf("%w: no SQLite database in %s", common.ErrNotFound, path)
	}
	return db, nil
}

func open(path string, readOnly bool) (*sql.DB, string, error) {
	dbPath, err := FindDatabase(path)
	if err != nil {
		return nil, "", err
	}

	dsn := "file:" + dbPath + "?_busy_timeout=5000"
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open Quicken database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to ping Quicken database: %w", err)
	}
	return db, dbPath, nil
}
