/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. The ledger
  never talks SQL; it asks a Store for rows and writes them back inside
  WithTx so every payment/refund and its enrollment update commit or roll
  back together.

KEY INTERFACES:
  Store:     Row-level reads and writes used inside a transaction
  TxStore:   Store + WithTx for atomic multi-row writes
  ViewStore: Read-side projections (search, counts, analytics facts)

LOCKING:
  Inside WithTx, GetEnrollment and GetPayment lock the returned row
  (SELECT ... FOR UPDATE on PostgreSQL, a single serialized writer on
  SQLite). Derived enrollment fields are then recomputed from a fresh read
  of the enrollment's payments, so concurrent writers never overwrite each
  other with stale totals.

NOT FOUND:
  Get* methods return (nil, nil) when the row does not exist.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL via sqlx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Row access, usable inside and outside a transaction
// =============================================================================

type Store interface {
	GetStudent(ctx context.Context, id string) (*Student, error)

	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	InsertEnrollment(ctx context.Context, e Enrollment) error
	// UpdateEnrollmentTotals persists the derived totalPaid and paymentStatus.
	UpdateEnrollmentTotals(ctx context.Context, e Enrollment) error

	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	InsertPayment(ctx context.Context, p Payment) error
	// UpdatePaymentState persists status, refundAmount and notes. Every
	// other payment column is immutable.
	UpdatePaymentState(ctx context.Context, p Payment) error
	PaymentsByEnrollment(ctx context.Context, enrollmentID string) ([]Payment, error)

	// AppendAudit adds an entry to the append-only audit trail.
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// VIEW STORE - Read-side projections, never persisted
// =============================================================================

type ViewStore interface {
	QueryPayments(ctx context.Context, q PaymentQuery) ([]PaymentView, error)
	CountPayments(ctx context.Context, q PaymentQuery) (int, error)
	GetPaymentView(ctx context.Context, id string) (*PaymentView, error)
	// FindPaymentByReference matches a transaction id or receipt number,
	// case-insensitively. Returns (nil, nil) when nothing matches.
	FindPaymentByReference(ctx context.Context, ref string) (*PaymentView, error)

	ListEnrollmentsByStudent(ctx context.Context, studentID string) ([]Enrollment, error)
	ListEnrollmentIDs(ctx context.Context) ([]string, error)

	PaymentFacts(ctx context.Context, program string) ([]PaymentFact, error)
	EnrollmentFacts(ctx context.Context, program string) ([]EnrollmentFact, error)

	AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// PaymentFact is the compact row analytics aggregates over.
type PaymentFact struct {
	Status       PaymentStatus
	Method       PaymentMethod
	Program      string
	Amount       Money
	RefundAmount Money
	PaymentDate  time.Time
}

// EnrollmentFact is the compact row for outstanding-balance totals.
type EnrollmentFact struct {
	Program   string
	Amount    Money
	TotalPaid Money
}

// =============================================================================
// AUDIT LOG - Append-only record of who did what
// =============================================================================

type AuditAction string

const (
	AuditPaymentRecorded     AuditAction = "payment_recorded"
	AuditPaymentSettled      AuditAction = "payment_settled"
	AuditPaymentRefunded     AuditAction = "payment_refunded"
	AuditPaymentNotesUpdated AuditAction = "payment_notes_updated"
	AuditEnrollmentCreated   AuditAction = "enrollment_created"
	AuditBalanceRepaired     AuditAction = "balance_repaired"
)

// AuditEntry records who did what when. Entries are never edited.
type AuditEntry struct {
	ID           string
	At           time.Time
	Actor        string
	Action       AuditAction
	PaymentID    string
	EnrollmentID string
	Reason       string
	Payload      map[string]any
}

type AuditFilter struct {
	PaymentID    string
	EnrollmentID string
	Actions      []AuditAction
	Limit        int
}
