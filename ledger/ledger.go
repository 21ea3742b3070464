/*
ledger.go - Ledger service wiring

PURPOSE:
  The Ledger bundles the four ledger components behind one value so the
  HTTP layer gets a single dependency:

    Payment Recorder    recorder.go   RecordPayment
    Refund Processor    refund.go     RefundPayment, SettlePayment, UpdateNotes
    Query Service       query.go      ListPayments, GetPayment, VerifyReceipt, ExportPayments
    Analytics           analytics.go  Summary

  Writers go through TxStore.WithTx. Readers go through ViewStore and
  never mutate state.

EXAMPLE:
  store, _ := sqlstore.New(":memory:")
  ids, _ := ledger.NewSnowflakeIDs(1)
  l := ledger.New(store, store, ids,
      ledger.WithLogger(logger),
      ledger.WithIdempotencyKeyRequired(true))

  receipt, err := l.RecordPayment(ctx, ledger.RecordInput{
      StudentID: "stu-1", Amount: "1000", Discount: "10", Tax: "5",
      IdempotencyKey: "req-123",
  })
  // receipt.Payment.Amount == 945.00
*/
package ledger

import (
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time. Injected so tests can pin "now".
type Clock func() time.Time

// Ledger is the payment/enrollment ledger service.
type Ledger struct {
	store    TxStore
	views    ViewStore
	ids      IDGenerator
	resolver EnrollmentResolver
	clock    Clock
	loc      *time.Location
	log      *zap.Logger

	requireIdempotencyKey bool
	exportLimit           int
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }
func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLocation sets the time zone used for calendar windows and date-only
// filter bounds. Defaults to UTC.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

// WithEnrollmentResolver replaces the default resolve-or-create collaborator.
func WithEnrollmentResolver(r EnrollmentResolver) Option {
	return func(l *Ledger) { l.resolver = r }
}

// WithIdempotencyKeyRequired rejects payment creation without a client key.
func WithIdempotencyKeyRequired(required bool) Option {
	return func(l *Ledger) { l.requireIdempotencyKey = required }
}

// WithExportLimit caps the number of rows an export may return.
func WithExportLimit(n int) Option { return func(l *Ledger) { l.exportLimit = n } }

const defaultExportLimit = 10000

// New creates a ledger over the given stores.
func New(store TxStore, views ViewStore, ids IDGenerator, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		views:       views,
		ids:         ids,
		clock:       time.Now,
		loc:         time.UTC,
		log:         zap.NewNop(),
		exportLimit: defaultExportLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resolver == nil {
		l.resolver = &DefaultEnrollmentResolver{
			Program: DefaultProgram,
			IDs:     ids,
			Clock:   l.clock,
			Log:     l.log,
		}
	}
	return l
}

// Location returns the calendar time zone of the ledger.
func (l *Ledger) Location() *time.Location { return l.loc }

func (l *Ledger) now() time.Time { return l.clock().UTC() }
