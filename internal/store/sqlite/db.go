// Package sqlite implements the Metadata Store on top of SQLite, following
// the teacher's single-writer setup: one connection serves both reads and
// writes.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// Open opens (creating if necessary) a SQLite database at dbPath configured
// for a single writer connection, WAL journaling, and foreign keys on.
func Open(dbPath string) (*sqlx.DB, error) {
	normalized, err := normalizePath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("preparing database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		normalized, int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizePath(dbPath string) (string, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return dbPath, nil
	}
	return filepath.Abs(dbPath)
}
