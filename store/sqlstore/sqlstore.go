/*
Package sqlstore provides the SQL implementation of the ledger storage
interfaces, for SQLite and PostgreSQL.

PURPOSE:
  Implements ledger.TxStore (row access inside transactions) and
  ledger.ViewStore (search, counts, analytics facts) with sqlx. Queries are
  written once with ? placeholders and rebound for the driver in use.

INTERFACES IMPLEMENTED:
  ledger.Store:     Students, enrollments, payments, audit log
  ledger.TxStore:   Store + WithTx
  ledger.ViewStore: Payment projections and aggregation facts

KEY TABLES:
  students:           Read-only collaborator data (seeded by admin/scenarios)
  enrollments:        Amount owed + stored total paid (verified by audit)
  payments:           One row per monetary event, never deleted
  audit_log:          Append-only who/what/why
  balance_audit_runs: History of balance verification runs

MONEY:
  Stored as integer minor units (*_cents BIGINT). Discount and tax
  percentages are stored as decimal text.

TIMESTAMPS:
  Stored as TEXT in a fixed-width UTC layout so that string comparison is
  chronological on both drivers.

CONCURRENCY:
  SQLite: one open connection, so writers are serialized and ":memory:"
  databases are shared by every caller.
  PostgreSQL: SERIALIZABLE transactions and SELECT ... FOR UPDATE on the
  enrollment and payment rows read inside WithTx. Serialization failures
  surface as ledger.ErrConcurrentModification.

USAGE:
  store, err := sqlstore.New(":memory:")
  store, err := sqlstore.Open("postgres", "postgres://ledger@localhost/ledger?sslmode=disable")
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on open.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - queries.go: Read-side projections
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/reviewhub/payment-ledger/ledger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements the ledger storage interfaces.
type Store struct {
	conn
	db     *sqlx.DB
	driver string
}

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := ping(db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, driver: driver, conn: conn{ext: db}}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB, driver string) error {
	attempts := 1
	if driver == DriverPostgres {
		attempts = 20
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		if i < attempts {
			time.Sleep(time.Duration(i) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("database ping: %w", err)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string { return s.driver }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
	-- Students (collaborator data, read by the ledger)
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		student_code TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Enrollments (remaining balance is derived, never stored)
	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		program TEXT NOT NULL,
		batch TEXT NOT NULL DEFAULT '',
		amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
		total_paid_cents BIGINT NOT NULL DEFAULT 0,
		payment_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_student
		ON enrollments(student_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_program
		ON enrollments(program);

	-- Payments (never deleted; amount is immutable)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		receipt_number TEXT NOT NULL UNIQUE,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		student_id TEXT NOT NULL REFERENCES students(id),
		base_amount_cents BIGINT NOT NULL,
		discount_percent TEXT NOT NULL DEFAULT '0',
		discount_cents BIGINT NOT NULL DEFAULT 0,
		tax_percent TEXT NOT NULL DEFAULT '0',
		tax_cents BIGINT NOT NULL DEFAULT 0,
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		refund_cents BIGINT NOT NULL DEFAULT 0,
		payment_date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (refund_cents >= 0 AND refund_cents <= amount_cents)
	);

	-- Enrollment recompute (hot path inside every write)
	CREATE INDEX IF NOT EXISTS idx_payments_enrollment
		ON payments(enrollment_id);
	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(student_id);
	-- Default list ordering and date windows
	CREATE INDEX IF NOT EXISTS idx_payments_date
		ON payments(payment_date DESC, id);
	CREATE INDEX IF NOT EXISTS idx_payments_status
		ON payments(status);
	CREATE INDEX IF NOT EXISTS idx_payments_method
		ON payments(payment_method);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		payment_id TEXT,
		enrollment_id TEXT,
		reason TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_audit_payment
		ON audit_log(payment_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_enrollment
		ON audit_log(enrollment_id, at);

	-- Balance audit runs
	CREATE TABLE IF NOT EXISTS balance_audit_runs (
		id TEXT PRIMARY KEY,
		run_trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		repair INTEGER NOT NULL DEFAULT 0,
		checked INTEGER NOT NULL DEFAULT 0,
		drifts INTEGER NOT NULL DEFAULT 0,
		repaired INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_started
		ON balance_audit_runs(started_at DESC);
`

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"audit_log", "balance_audit_runs", "payments", "enrollments", "students"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction. The Store
// passed to fn must be used for every read and write of the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	var opts *sql.TxOptions
	lock := ""
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
		lock = " FOR UPDATE"
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&conn{ext: tx, forUpdate: lock}); err != nil {
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// translate maps driver errors onto ledger sentinels, keeping the cause.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
