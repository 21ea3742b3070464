/*
recorder.go - Payment Recorder

PURPOSE:
  Turns an admin's payment request into a durable Payment while keeping
  the owning Enrollment's totals consistent.

FLOW:
  1. Validate (fail-fast, no writes): amount, discount/tax, method, status,
     idempotency key, student, enrollment
  2. Replay: a known idempotency key returns the original receipt
  3. Atomic pair inside WithTx:
       resolve-or-create enrollment (locked)
       insert payment
       recompute enrollment totals from all its payments
       append audit entry
  4. Any failure in step 3 rolls back every write

IDEMPOTENCY:
  Network retries of the same request carry the same key. The first call
  records the payment; later calls return that payment with Replayed set.
  Reusing a key for a different student or amount is rejected.

SEE ALSO:
  - charge.go: Final amount derivation
  - enrollment.go: resolveOrCreateEnrollment collaborator
  - refund.go: The other writer of payment state
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RecordInput is a request to record one payment. Numeric fields are raw
// strings so that malformed input surfaces as ErrInvalidAmount or
// ErrInvalidAdjustment instead of a decoding failure.
type RecordInput struct {
	StudentID    string
	EnrollmentID string
	Amount       string
	Method       string
	Discount     string
	Tax          string
	Notes        string
	// Status is "completed" (default) or "pending" for payments awaiting
	// confirmation, e.g. bank transfers.
	Status         string
	PaymentDate    *time.Time
	IdempotencyKey string
	Actor          string

	// Program and Batch tag the enrollment created when EnrollmentID is empty.
	Program string
	Batch   string
}

// Receipt is a recorded payment with the context needed to render it.
type Receipt struct {
	Payment           Payment
	Student           Student
	Enrollment        Enrollment
	EnrollmentCreated bool
	// Replayed is true when the idempotency key matched an earlier payment.
	Replayed bool
}

type validatedPayment struct {
	charge  Charge
	method  PaymentMethod
	status  PaymentStatus
	student Student
}

// RecordPayment records a payment and updates its enrollment atomically.
func (l *Ledger) RecordPayment(ctx context.Context, in RecordInput) (Receipt, error) {
	v, err := l.validateRecord(ctx, in)
	if err != nil {
		return Receipt{}, err
	}

	if in.IdempotencyKey != "" {
		receipt, found, err := l.replay(ctx, in, v)
		if err != nil || found {
			return receipt, err
		}
	}

	now := l.now()
	paymentDate := now
	if in.PaymentDate != nil && !in.PaymentDate.IsZero() {
		paymentDate = in.PaymentDate.UTC()
	}

	var receipt Receipt
	err = l.store.WithTx(ctx, func(s Store) error {
		enrollment, created, err := l.resolver.ResolveOrCreate(ctx, s, v.student, EnrollmentHint{
			EnrollmentID:  in.EnrollmentID,
			Program:       in.Program,
			Batch:         in.Batch,
			PaymentAmount: v.charge.Final,
			Actor:         in.Actor,
		})
		if err != nil {
			return err
		}

		p := Payment{
			ID:             l.ids.NewID(),
			TransactionID:  l.ids.NewTransactionID(),
			ReceiptNumber:  l.ids.NewReceiptNumber(paymentDate),
			EnrollmentID:   enrollment.ID,
			StudentID:      v.student.ID,
			Charge:         v.charge,
			Amount:         v.charge.Final,
			Method:         v.method,
			Status:         v.status,
			PaymentDate:    paymentDate,
			Notes:          strings.TrimSpace(in.Notes),
			IdempotencyKey: in.IdempotencyKey,
			CreatedBy:      in.Actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.InsertPayment(ctx, p); err != nil {
			return err
		}

		updated, err := refreshEnrollment(ctx, s, enrollment, now)
		if err != nil {
			return err
		}

		err = s.AppendAudit(ctx, AuditEntry{
			ID:           l.ids.NewID(),
			At:           now,
			Actor:        in.Actor,
			Action:       AuditPaymentRecorded,
			PaymentID:    p.ID,
			EnrollmentID: enrollment.ID,
			Payload: map[string]any{
				"transaction_id": p.TransactionID,
				"amount":         p.Amount.String(),
				"method":         string(p.Method),
				"status":         string(p.Status),
			},
		})
		if err != nil {
			return err
		}

		receipt = Receipt{Payment: p, Student: v.student, Enrollment: updated, EnrollmentCreated: created}
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key committed first.
		receipt, found, rerr := l.replay(ctx, in, v)
		if rerr != nil {
			return Receipt{}, rerr
		}
		if found {
			return receipt, nil
		}
	}
	if err != nil {
		return Receipt{}, persistence(err)
	}

	l.log.Info("payment recorded",
		zap.String("payment_id", receipt.Payment.ID),
		zap.String("transaction_id", receipt.Payment.TransactionID),
		zap.String("enrollment_id", receipt.Enrollment.ID),
		zap.String("amount", receipt.Payment.Amount.String()),
		zap.String("method", string(receipt.Payment.Method)),
		zap.String("enrollment_status", string(receipt.Enrollment.PaymentStatus)),
	)
	return receipt, nil
}

func (l *Ledger) validateRecord(ctx context.Context, in RecordInput) (validatedPayment, error) {
	if strings.TrimSpace(in.Amount) == "" {
		return validatedPayment{}, &FieldError{Field: "amount", Message: "is required", Err: ErrInvalidAmount}
	}
	base, err := ParseMoney(in.Amount)
	if err != nil {
		return validatedPayment{}, &FieldError{Field: "amount", Message: err.Error(), Err: ErrInvalidAmount}
	}
	discount, err := parsePercent("discount", in.Discount)
	if err != nil {
		return validatedPayment{}, err
	}
	tax, err := parsePercent("tax", in.Tax)
	if err != nil {
		return validatedPayment{}, err
	}
	charge, err := DeriveCharge(base, discount, tax)
	if err != nil {
		return validatedPayment{}, err
	}

	method, err := ParsePaymentMethod(in.Method)
	if err != nil {
		return validatedPayment{}, &FieldError{Field: "paymentMethod", Message: err.Error(), Err: ErrInvalidPaymentMethod}
	}
	status := StatusCompleted
	if strings.TrimSpace(in.Status) != "" {
		status, err = ParsePaymentStatus(in.Status)
		if err != nil || (status != StatusCompleted && status != StatusPending) {
			return validatedPayment{}, &FieldError{Field: "status", Message: "must be completed or pending", Err: ErrInvalidStatus}
		}
	}

	if l.requireIdempotencyKey && strings.TrimSpace(in.IdempotencyKey) == "" {
		return validatedPayment{}, ErrIdempotencyKeyRequired
	}

	if strings.TrimSpace(in.StudentID) == "" {
		return validatedPayment{}, &FieldError{Field: "studentId", Message: "is required", Err: ErrInvalidInput}
	}
	student, err := l.store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return validatedPayment{}, persistence(err)
	}
	if student == nil {
		return validatedPayment{}, fmt.Errorf("%w: %s", ErrStudentNotFound, in.StudentID)
	}

	if in.EnrollmentID != "" {
		e, err := l.store.GetEnrollment(ctx, in.EnrollmentID)
		if err != nil {
			return validatedPayment{}, persistence(err)
		}
		if e == nil || e.StudentID != student.ID {
			return validatedPayment{}, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, in.EnrollmentID)
		}
	}

	return validatedPayment{charge: charge, method: method, status: status, student: *student}, nil
}

// replay returns the receipt of an earlier payment with the same key.
func (l *Ledger) replay(ctx context.Context, in RecordInput, v validatedPayment) (Receipt, bool, error) {
	existing, err := l.store.GetPaymentByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return Receipt{}, false, persistence(err)
	}
	if existing == nil {
		return Receipt{}, false, nil
	}
	if !sameRequest(*existing, in, v) {
		return Receipt{}, false, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, in.IdempotencyKey)
	}

	enrollment, err := l.store.GetEnrollment(ctx, existing.EnrollmentID)
	if err != nil {
		return Receipt{}, false, persistence(err)
	}
	if enrollment == nil {
		return Receipt{}, false, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, existing.EnrollmentID)
	}

	l.log.Info("payment replayed for idempotency key",
		zap.String("payment_id", existing.ID),
		zap.String("idempotency_key", in.IdempotencyKey),
	)
	return Receipt{Payment: *existing, Student: v.student, Enrollment: *enrollment, Replayed: true}, true, nil
}

// sameRequest reports whether a retried request matches the payment that
// first used its idempotency key. Status is not compared since the payment
// may have been settled or refunded since.
func sameRequest(existing Payment, in RecordInput, v validatedPayment) bool {
	return existing.StudentID == v.student.ID &&
		existing.Charge.Base.Equal(v.charge.Base) &&
		existing.Charge.DiscountPercent.Equal(v.charge.DiscountPercent) &&
		existing.Charge.TaxPercent.Equal(v.charge.TaxPercent) &&
		existing.Method == v.method &&
		(in.EnrollmentID == "" || existing.EnrollmentID == in.EnrollmentID)
}

// refreshEnrollment re-reads the enrollment's payments inside the current
// transaction and persists the recomputed totals.
func refreshEnrollment(ctx context.Context, s Store, e Enrollment, at time.Time) (Enrollment, error) {
	payments, err := s.PaymentsByEnrollment(ctx, e.ID)
	if err != nil {
		return Enrollment{}, err
	}
	updated := e.Recompute(payments)
	updated.UpdatedAt = at
	if err := s.UpdateEnrollmentTotals(ctx, updated); err != nil {
		return Enrollment{}, err
	}
	return updated, nil
}
