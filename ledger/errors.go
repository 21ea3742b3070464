/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger errors in one place. Handlers map them to HTTP statuses with
  errors.Is, so every structured error unwraps to one of the sentinels.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any write begins
  2. Not-found errors - Referenced student/enrollment/payment missing
  3. State errors - Refund or settlement not allowed in the current state
  4. Store errors - The atomic pair could not be committed

SEE ALSO:
  - api/handlers.go: writeLedgerError maps these to HTTP statuses
  - store/sqlstore: Translates driver errors into these sentinels
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is missing, non-numeric
	// or not strictly positive.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAdjustment is returned for out-of-range discount or tax.
	ErrInvalidAdjustment = errors.New("invalid discount or tax")

	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidInput         = errors.New("invalid input")

	ErrStudentNotFound    = errors.New("student not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrPaymentNotFound    = errors.New("payment not found")

	// ErrRefundExceedsBalance is returned when a refund is larger than
	// amount - refundAmount of the target payment.
	ErrRefundExceedsBalance = errors.New("refund exceeds refundable balance")

	// ErrNotRefundable is returned when the payment is not completed or
	// partially refunded.
	ErrNotRefundable = errors.New("payment is not refundable")

	// ErrNotSettleable is returned when settling a payment that is not pending.
	ErrNotSettleable = errors.New("payment is not pending")

	ErrRefundReasonRequired   = errors.New("refund reason is required")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")

	// ErrDuplicateIdempotencyKey is returned when a key was already used
	// for a different payment request.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used for a different request")

	// ErrConcurrentModification is returned when the store aborted the
	// transaction because of a conflicting concurrent write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPersistenceFailure is returned when the atomic write could not be
	// committed. Nothing was written.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is a validation failure on a single request field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Err }

// RefundExceedsError reports how much could still have been refunded.
type RefundExceedsError struct {
	PaymentID  string
	Requested  Money
	Refundable Money
}

func (e *RefundExceedsError) Error() string {
	return fmt.Sprintf("refund of %s exceeds refundable balance %s for payment %s",
		e.Requested, e.Refundable, e.PaymentID)
}

func (e *RefundExceedsError) Unwrap() error { return ErrRefundExceedsBalance }

// StateError reports an operation rejected because of the payment status.
type StateError struct {
	PaymentID string
	Status    PaymentStatus
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: payment %s is %s", e.Err, e.PaymentID, e.Status)
}

func (e *StateError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRefundReasonRequired) ||
		errors.Is(err, ErrIdempotencyKeyRequired)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsConflict returns true if the request is valid but conflicts with the
// current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRefundExceedsBalance) ||
		errors.Is(err, ErrNotRefundable) ||
		errors.Is(err, ErrNotSettleable) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// isDomain reports whether err already carries a ledger sentinel.
func isDomain(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsConflict(err) ||
		errors.Is(err, ErrPersistenceFailure)
}

// persistence wraps store faults so callers see ErrPersistenceFailure while
// the underlying cause stays inspectable.
func persistence(err error) error {
	if err == nil || isDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
}
