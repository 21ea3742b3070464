/*
audit.go - Balance audit

PURPOSE:
  Enrollment totalPaid is stored for query efficiency, so it is verified
  against the payments it is derived from. VerifyBalances walks every
  enrollment, recomputes its totals inside a transaction and reports any
  drift. With repair set, drifted rows are rewritten and a balance_repaired
  audit entry is appended.

  Run periodically by api.BalanceAuditScheduler and on demand through
  POST /api/audit/run.
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BalanceDrift is an enrollment whose stored totals disagree with its
// payments.
type BalanceDrift struct {
	EnrollmentID    string
	StoredTotalPaid Money
	ActualTotalPaid Money
	StoredStatus    EnrollmentStatus
	ActualStatus    EnrollmentStatus
	Repaired        bool
}

type AuditReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Drifts     []BalanceDrift
	Repaired   int
}

// VerifyBalances checks every enrollment's stored totals.
func (l *Ledger) VerifyBalances(ctx context.Context, repair bool, actor string) (AuditReport, error) {
	report := AuditReport{StartedAt: l.now(), Drifts: []BalanceDrift{}}

	ids, err := l.views.ListEnrollmentIDs(ctx)
	if err != nil {
		return report, persistence(err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var drift *BalanceDrift
		err := l.store.WithTx(ctx, func(s Store) error {
			e, err := s.GetEnrollment(ctx, id)
			if err != nil || e == nil {
				return err
			}
			payments, err := s.PaymentsByEnrollment(ctx, id)
			if err != nil {
				return err
			}
			actual := e.Recompute(payments)
			if actual.TotalPaid.Equal(e.TotalPaid) && actual.PaymentStatus == e.PaymentStatus {
				return nil
			}

			drift = &BalanceDrift{
				EnrollmentID:    id,
				StoredTotalPaid: e.TotalPaid,
				ActualTotalPaid: actual.TotalPaid,
				StoredStatus:    e.PaymentStatus,
				ActualStatus:    actual.PaymentStatus,
			}
			if !repair {
				return nil
			}

			now := l.now()
			actual.UpdatedAt = now
			if err := s.UpdateEnrollmentTotals(ctx, actual); err != nil {
				return err
			}
			drift.Repaired = true
			return s.AppendAudit(ctx, AuditEntry{
				ID:           l.ids.NewID(),
				At:           now,
				Actor:        actor,
				Action:       AuditBalanceRepaired,
				EnrollmentID: id,
				Reason:       "stored total paid disagreed with payments",
				Payload: map[string]any{
					"stored_total_paid": e.TotalPaid.String(),
					"actual_total_paid": actual.TotalPaid.String(),
					"stored_status":     string(e.PaymentStatus),
					"actual_status":     string(actual.PaymentStatus),
				},
			})
		})
		if err != nil {
			return report, persistence(err)
		}

		report.Checked++
		if drift != nil {
			report.Drifts = append(report.Drifts, *drift)
			if drift.Repaired {
				report.Repaired++
			}
			l.log.Warn("enrollment balance drift",
				zap.String("enrollment_id", drift.EnrollmentID),
				zap.String("stored_total_paid", drift.StoredTotalPaid.String()),
				zap.String("actual_total_paid", drift.ActualTotalPaid.String()),
				zap.Bool("repaired", drift.Repaired),
			)
		}
	}

	report.FinishedAt = l.now()
	return report, nil
}
