/*
Package ledger provides the payment/enrollment ledger of the review center.

PURPOSE:
  Records payments against student enrollments, processes refunds, keeps
  every enrollment's balance consistent with its payments, and serves the
  read side (payment search, receipt verification, financial analytics).
  Everything else in the admin system (students, programs, attendance,
  certificates) is an external collaborator reached through small
  interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: Currency amount, decimal in memory, integer cents on disk
  - PaymentStatus / PaymentMethod / EnrollmentStatus: Closed enumerations
  - Student, Enrollment, Payment: The ledger's data model

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Derivation: remainingBalance is computed, never stored
  3. Atomicity: A payment/refund and its enrollment update commit together
  4. Auditability: Refunds are state transitions plus an append-only audit
     entry, payments are never deleted

SEE ALSO:
  - recorder.go: Payment creation
  - refund.go: Refund state machine
  - query.go: Search, pagination, verification, export
  - analytics.go: Revenue and distribution rollups
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount with two-place precision
// =============================================================================

// Money is a currency amount. All arithmetic is exact; values are rounded
// to cents when they cross the persistence boundary.
type Money struct {
	Value decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// MaxAmount is the largest amount the ledger accepts for a single payment,
// enrollment or charge component. Stored cents stay far inside int64 even
// when many such amounts are summed.
var MaxAmount = Money{Value: decimal.New(1, 12)}

func MoneyFromCents(cents int64) Money { return Money{Value: decimal.New(cents, -2)} }
func MoneyFromInt(units int64) Money { return Money{Value: decimal.NewFromInt(units)} }

// ParseMoney parses a decimal string such as "1000" or "1250.50".
// The result is rounded to cents.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("not a number: %q", s)
	}
	m := Money{Value: d.Round(2)}
	if m.Value.Abs().GreaterThan(MaxAmount.Value) {
		return Money{}, fmt.Errorf("must not exceed %s", MaxAmount)
	}
	return m, nil
}

// MustMoney is ParseMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money { return Money{Value: m.Value.Neg()} }
func (m Money) Round() Money { return Money{Value: m.Value.Round(2)} }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool { return m.Value.LessThan(o.Value) }

// Percent returns m * pct / 100 rounded to cents.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(hundred).Round(2)}
}

// FloorZero clamps negative amounts to zero. Used for display balances.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return Money{}
	}
	return m
}

// Cents returns the amount in integer minor units. Amounts that do not fit
// in an int64 are rejected with ErrInvalidAmount rather than wrapped.
func (m Money) Cents() (int64, error) {
	c := m.Value.Round(2).Shift(2).BigInt()
	if !c.IsInt64() {
		return 0, fmt.Errorf("%w: %s does not fit in cents", ErrInvalidAmount, m)
	}
	return c.Int64(), nil
}

func (m Money) String() string { return m.Value.StringFixed(2) }

// MarshalJSON renders money as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Value.StringFixed(2)), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*m = Money{}
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// =============================================================================
// ENUMERATIONS - Closed sets, parsed at the boundary
// =============================================================================

// normalizeTag lower-cases a tag and accepts "-" or " " as "_" separators,
// so "Partially-Refunded" and "partially_refunded" parse the same way.
func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusCompleted         PaymentStatus = "completed"
	StatusFailed            PaymentStatus = "failed"
	StatusRefunded          PaymentStatus = "refunded"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentStatuses lists every status in display order.
var PaymentStatuses = []PaymentStatus{
	StatusPending, StatusCompleted, StatusFailed, StatusPartiallyRefunded, StatusRefunded,
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(normalizeTag(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// Collected reports whether money from a payment in this status landed.
// Only collected payments count toward an enrollment's totalPaid.
func (s PaymentStatus) Collected() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded || s == StatusRefunded
}

// Refundable reports whether a refund may be applied in this status.
func (s PaymentStatus) Refundable() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodMobileWallet PaymentMethod = "mobile_wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodOtherGateway PaymentMethod = "other_gateway"
)

var PaymentMethods = []PaymentMethod{
	MethodCash, MethodMobileWallet, MethodBankTransfer, MethodCard, MethodOtherGateway,
}

// ParsePaymentMethod parses a method tag. Empty input defaults to cash.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	if strings.TrimSpace(s) == "" {
		return MethodCash, nil
	}
	m := PaymentMethod(normalizeTag(s))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
	return m, nil
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodMobileWallet, MethodBankTransfer, MethodCard, MethodOtherGateway:
		return true
	}
	return false
}

// EnrollmentStatus is the payment state of a whole enrollment.
type EnrollmentStatus string

const (
	EnrollmentUnpaid        EnrollmentStatus = "unpaid"
	EnrollmentPartiallyPaid EnrollmentStatus = "partially_paid"
	EnrollmentPaid          EnrollmentStatus = "paid"
)

func ParseEnrollmentStatus(s string) (EnrollmentStatus, error) {
	st := EnrollmentStatus(normalizeTag(s))
	switch st {
	case EnrollmentUnpaid, EnrollmentPartiallyPaid, EnrollmentPaid:
		return st, nil
	}
	return "", fmt.Errorf("%w: enrollment status %q", ErrInvalidStatus, s)
}

// DeriveEnrollmentStatus compares what was paid against what is owed.
func DeriveEnrollmentStatus(amount, totalPaid Money) EnrollmentStatus {
	switch {
	case !totalPaid.IsPositive():
		return EnrollmentUnpaid
	case totalPaid.GreaterThanOrEqual(amount):
		return EnrollmentPaid
	default:
		return EnrollmentPartiallyPaid
	}
}

// =============================================================================
// ENTITIES
// =============================================================================

// Student is owned by the admin system; the ledger only reads it.
type Student struct {
	ID        string
	Code      string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	CreatedAt time.Time
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Enrollment is one student's registration into one program offering.
type Enrollment struct {
	ID            string
	StudentID     string
	Program       string
	Batch         string
	Amount        Money
	TotalPaid     Money
	PaymentStatus EnrollmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemainingBalance is amount - totalPaid, negative when overpaid.
func (e Enrollment) RemainingBalance() Money { return e.Amount.Sub(e.TotalPaid) }

// DisplayBalance is RemainingBalance floored at zero.
func (e Enrollment) DisplayBalance() Money { return e.RemainingBalance().FloorZero() }

// Payment is one monetary event against an enrollment.
type Payment struct {
	ID             string
	TransactionID  string
	ReceiptNumber  string
	EnrollmentID   string
	StudentID      string
	Charge         Charge
	Amount         Money
	Method         PaymentMethod
	Status         PaymentStatus
	RefundAmount   Money
	PaymentDate    time.Time
	Notes          string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Refundable is what can still be refunded against this payment.
func (p Payment) Refundable() Money { return p.Amount.Sub(p.RefundAmount) }

// NetCollected is this payment's contribution to its enrollment's totalPaid.
func (p Payment) NetCollected() Money {
	if !p.Status.Collected() {
		return Money{}
	}
	return p.Amount.Sub(p.RefundAmount)
}

// CheckInvariants verifies the refund bound and status consistency.
func (p Payment) CheckInvariants() error {
	if p.RefundAmount.IsNegative() || p.RefundAmount.GreaterThan(p.Amount) {
		return fmt.Errorf("payment %s: refund %s outside [0, %s]", p.ID, p.RefundAmount, p.Amount)
	}
	switch {
	case p.RefundAmount.IsZero():
		if p.Status == StatusRefunded || p.Status == StatusPartiallyRefunded {
			return fmt.Errorf("payment %s: status %s without refund", p.ID, p.Status)
		}
	case p.RefundAmount.Equal(p.Amount):
		if p.Status != StatusRefunded {
			return fmt.Errorf("payment %s: fully refunded but status %s", p.ID, p.Status)
		}
	default:
		if p.Status != StatusPartiallyRefunded {
			return fmt.Errorf("payment %s: partially refunded but status %s", p.ID, p.Status)
		}
	}
	return nil
}

// Recompute derives totalPaid and paymentStatus from the enrollment's
// payments. Derived fields are never updated from an in-memory delta.
func (e Enrollment) Recompute(payments []Payment) Enrollment {
	total := Money{}
	for _, p := range payments {
		if p.EnrollmentID != e.ID {
			continue
		}
		total = total.Add(p.NetCollected())
	}
	e.TotalPaid = total
	e.PaymentStatus = DeriveEnrollmentStatus(e.Amount, total)
	return e
}
