// Package sqlite implements the ledger store on SQLite (modernc, pure Go).
//
// Writes are single statements except ApplyPaymentCredit, which pairs the
// payment flag with the wallet increment in one transaction. Conditional
// writes (status guards, balance compare-and-swap) are expressed in the WHERE
// clause and report domain.ErrConflict when no row matched. Unique-key
// violations also map to domain.ErrConflict so callers can treat them as
// idempotency signals.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reelreview/ledger/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FileName is the database file created inside the data directory.
const FileName = "ledger.db"

// timeLayout sorts lexicographically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is the ledger store.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the ledger database inside dir and applies the
// schema.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps conditional updates strictly serialized.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, now: time.Now}
	if err := db.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Migrate applies all schema statements. It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range LedgerMigrations() {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) timestamp() string {
	return db.now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// insertErr maps unique violations to domain.ErrConflict.
func insertErr(what string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("insert %s: %w", what, domain.ErrConflict)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

// requireOne maps an UPDATE touching zero rows to miss.
func requireOne(res sql.Result, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return miss
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
