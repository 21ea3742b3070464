/*
refund.go - Refund Processor and payment state transitions

PURPOSE:
  Every change to an existing payment goes through here: refunds,
  settlement of pending payments and notes edits. Each one re-reads the
  payment inside the transaction, applies the transition, recomputes the
  enrollment and appends an audit entry.

STATE MACHINE:
  pending            -> completed | failed            (SettlePayment)
  completed          -> partially_refunded | refunded (RefundPayment)
  partially_refunded -> partially_refunded | refunded (RefundPayment)
  refunded, failed   -> terminal

  Refund bound: 0 <= refundAmount <= amount, always.

SEE ALSO:
  - recorder.go: Creates payments
  - audit.go: Verifies enrollment totals after the fact
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// REFUND
// =============================================================================

type RefundInput struct {
	PaymentID string
	Amount    string
	Reason    string
	Actor     string
}

// RefundResult is the updated payment and its enrollment.
type RefundResult struct {
	Payment    Payment
	Enrollment Enrollment
	Refunded   Money
}

// RefundPayment refunds part or all of a completed payment.
func (l *Ledger) RefundPayment(ctx context.Context, in RefundInput) (RefundResult, error) {
	amount, err := ParseMoney(in.Amount)
	if err != nil {
		return RefundResult{}, &FieldError{Field: "refundAmount", Message: err.Error(), Err: ErrInvalidAmount}
	}
	if !amount.IsPositive() {
		return RefundResult{}, &FieldError{Field: "refundAmount", Message: "must be greater than zero", Err: ErrInvalidAmount}
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return RefundResult{}, &FieldError{Field: "refundReason", Message: "is required", Err: ErrRefundReasonRequired}
	}

	var result RefundResult
	err = l.store.WithTx(ctx, func(s Store) error {
		p, err := lockPayment(ctx, s, in.PaymentID)
		if err != nil {
			return err
		}
		if !p.Status.Refundable() {
			return &StateError{PaymentID: p.ID, Status: p.Status, Err: ErrNotRefundable}
		}
		if amount.GreaterThan(p.Refundable()) {
			return &RefundExceedsError{PaymentID: p.ID, Requested: amount, Refundable: p.Refundable()}
		}

		now := l.now()
		previous := p.Status
		p.RefundAmount = p.RefundAmount.Add(amount)
		if p.RefundAmount.Equal(p.Amount) {
			p.Status = StatusRefunded
		} else {
			p.Status = StatusPartiallyRefunded
		}
		p.UpdatedAt = now
		if err := p.CheckInvariants(); err != nil {
			return err
		}
		if err := s.UpdatePaymentState(ctx, p); err != nil {
			return err
		}

		enrollment, err := l.refreshOwner(ctx, s, p)
		if err != nil {
			return err
		}

		err = s.AppendAudit(ctx, AuditEntry{
			ID:           l.ids.NewID(),
			At:           now,
			Actor:        in.Actor,
			Action:       AuditPaymentRefunded,
			PaymentID:    p.ID,
			EnrollmentID: p.EnrollmentID,
			Reason:       reason,
			Payload: map[string]any{
				"refund_amount":       amount.String(),
				"total_refund_amount": p.RefundAmount.String(),
				"from_status":         string(previous),
				"to_status":           string(p.Status),
			},
		})
		if err != nil {
			return err
		}

		result = RefundResult{Payment: p, Enrollment: enrollment, Refunded: amount}
		return nil
	})
	if err != nil {
		return RefundResult{}, persistence(err)
	}

	l.log.Info("payment refunded",
		zap.String("payment_id", result.Payment.ID),
		zap.String("refund_amount", amount.String()),
		zap.String("status", string(result.Payment.Status)),
		zap.String("enrollment_id", result.Enrollment.ID),
		zap.String("total_paid", result.Enrollment.TotalPaid.String()),
	)
	return result, nil
}

// =============================================================================
// SETTLEMENT - pending payments awaiting confirmation
// =============================================================================

type SettleInput struct {
	PaymentID string
	// Outcome is "completed" or "failed".
	Outcome string
	Reason  string
	Actor   string
}

// SettlePayment confirms or fails a pending payment.
func (l *Ledger) SettlePayment(ctx context.Context, in SettleInput) (RefundResult, error) {
	outcome, err := ParsePaymentStatus(in.Outcome)
	if err != nil || (outcome != StatusCompleted && outcome != StatusFailed) {
		return RefundResult{}, &FieldError{Field: "status", Message: "must be completed or failed", Err: ErrInvalidStatus}
	}

	var result RefundResult
	err = l.store.WithTx(ctx, func(s Store) error {
		p, err := lockPayment(ctx, s, in.PaymentID)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return &StateError{PaymentID: p.ID, Status: p.Status, Err: ErrNotSettleable}
		}

		now := l.now()
		p.Status = outcome
		p.UpdatedAt = now
		if err := s.UpdatePaymentState(ctx, p); err != nil {
			return err
		}
		enrollment, err := l.refreshOwner(ctx, s, p)
		if err != nil {
			return err
		}
		err = s.AppendAudit(ctx, AuditEntry{
			ID:           l.ids.NewID(),
			At:           now,
			Actor:        in.Actor,
			Action:       AuditPaymentSettled,
			PaymentID:    p.ID,
			EnrollmentID: p.EnrollmentID,
			Reason:       strings.TrimSpace(in.Reason),
			Payload:      map[string]any{"from_status": string(StatusPending), "to_status": string(outcome)},
		})
		if err != nil {
			return err
		}
		result = RefundResult{Payment: p, Enrollment: enrollment}
		return nil
	})
	if err != nil {
		return RefundResult{}, persistence(err)
	}

	l.log.Info("payment settled",
		zap.String("payment_id", result.Payment.ID),
		zap.String("status", string(result.Payment.Status)),
	)
	return result, nil
}

// =============================================================================
// NOTES
// =============================================================================

// UpdateNotes replaces the payment's free-text notes. The previous value is
// kept in the audit trail.
func (l *Ledger) UpdateNotes(ctx context.Context, paymentID, notes, actor string) (Payment, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > 2000 {
		return Payment{}, &FieldError{Field: "notes", Message: "must be at most 2000 characters", Err: ErrInvalidInput}
	}

	var updated Payment
	err := l.store.WithTx(ctx, func(s Store) error {
		p, err := lockPayment(ctx, s, paymentID)
		if err != nil {
			return err
		}
		previous := p.Notes
		now := l.now()
		p.Notes = notes
		p.UpdatedAt = now
		if err := s.UpdatePaymentState(ctx, p); err != nil {
			return err
		}
		err = s.AppendAudit(ctx, AuditEntry{
			ID:           l.ids.NewID(),
			At:           now,
			Actor:        actor,
			Action:       AuditPaymentNotesUpdated,
			PaymentID:    p.ID,
			EnrollmentID: p.EnrollmentID,
			Payload:      map[string]any{"previous_notes": previous, "notes": notes},
		})
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Payment{}, persistence(err)
	}
	return updated, nil
}

// AuditTrail returns the audit entries of one payment, oldest first.
func (l *Ledger) AuditTrail(ctx context.Context, paymentID string) ([]AuditEntry, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, persistence(err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	entries, err := l.views.AuditTrail(ctx, AuditFilter{PaymentID: paymentID})
	if err != nil {
		return nil, persistence(err)
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func lockPayment(ctx context.Context, s Store, id string) (Payment, error) {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p == nil {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	return *p, nil
}

// refreshOwner locks the payment's enrollment and recomputes its totals.
func (l *Ledger) refreshOwner(ctx context.Context, s Store, p Payment) (Enrollment, error) {
	e, err := s.GetEnrollment(ctx, p.EnrollmentID)
	if err != nil {
		return Enrollment{}, err
	}
	if e == nil {
		return Enrollment{}, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, p.EnrollmentID)
	}
	return refreshEnrollment(ctx, s, *e, l.now())
}
