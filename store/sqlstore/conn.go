package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/reviewhub/payment-ledger/ledger"
)

// =============================================================================
// ROW ACCESS - ledger.Store, shared by Store and the transaction handle
// =============================================================================

// conn runs queries against either the pool or an open transaction.
// forUpdate is appended to single-row reads inside a PostgreSQL transaction.
type conn struct {
	ext       sqlx.ExtContext
	forUpdate string
}

func (c *conn) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, c.ext, dest, c.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.ext.ExecContext(ctx, c.ext.Rebind(query), args...)
}

func (c *conn) GetStudent(ctx context.Context, id string) (*ledger.Student, error) {
	var r studentRow
	ok, err := c.get(ctx, &r, `
		SELECT id, student_code, first_name, last_name, email, phone, created_at
		FROM students WHERE id = ?`, id)
	if err != nil || !ok {
		return nil, err
	}
	st := r.toStudent()
	return &st, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (c *conn) GetEnrollment(ctx context.Context, id string) (*ledger.Enrollment, error) {
	var r enrollmentRow
	ok, err := c.get(ctx, &r, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`+c.forUpdate, id)
	if err != nil || !ok {
		return nil, err
	}
	e := r.toEnrollment()
	return &e, nil
}

func (c *conn) InsertEnrollment(ctx context.Context, e ledger.Enrollment) error {
	amounts, err := cents(e.Amount, e.TotalPaid)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
		INSERT INTO enrollments (id, student_id, program, batch, amount_cents, total_paid_cents,
			payment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StudentID, e.Program, e.Batch, amounts[0], amounts[1],
		string(e.PaymentStatus), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

func (c *conn) UpdateEnrollmentTotals(ctx context.Context, e ledger.Enrollment) error {
	totalPaid, err := e.TotalPaid.Cents()
	if err != nil {
		return err
	}
	res, err := c.exec(ctx, `
		UPDATE enrollments SET total_paid_cents = ?, payment_status = ?, updated_at = ?
		WHERE id = ?`,
		totalPaid, string(e.PaymentStatus), formatTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	return requireRow(res, ledger.ErrEnrollmentNotFound, e.ID)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (c *conn) GetPayment(ctx context.Context, id string) (*ledger.Payment, error) {
	return c.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = ?`+c.forUpdate, id)
}

func (c *conn) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*ledger.Payment, error) {
	return c.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.idempotency_key = ?`, key)
}

func (c *conn) getPayment(ctx context.Context, query string, args ...any) (*ledger.Payment, error) {
	var r paymentRow
	ok, err := c.get(ctx, &r, query, args...)
	if err != nil || !ok {
		return nil, err
	}
	p := r.toPayment()
	return &p, nil
}

func (c *conn) InsertPayment(ctx context.Context, p ledger.Payment) error {
	r, err := newPaymentRow(p)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
		INSERT INTO payments (id, transaction_id, receipt_number, enrollment_id, student_id,
			base_amount_cents, discount_percent, discount_cents, tax_percent, tax_cents,
			amount_cents, payment_method, status, refund_cents, payment_date, notes,
			idempotency_key, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TransactionID, r.ReceiptNumber, r.EnrollmentID, r.StudentID,
		r.BaseCents, r.DiscountPercent, r.DiscountCents, r.TaxPercent, r.TaxCents,
		r.AmountCents, r.Method, r.Status, r.RefundCents, r.PaymentDate, r.Notes,
		r.IdempotencyKey, r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateIdempotencyKey, p.IdempotencyKey)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (c *conn) UpdatePaymentState(ctx context.Context, p ledger.Payment) error {
	refund, err := p.RefundAmount.Cents()
	if err != nil {
		return err
	}
	res, err := c.exec(ctx, `
		UPDATE payments SET status = ?, refund_cents = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		string(p.Status), refund, p.Notes, formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return requireRow(res, ledger.ErrPaymentNotFound, p.ID)
}

func (c *conn) PaymentsByEnrollment(ctx context.Context, enrollmentID string) ([]ledger.Payment, error) {
	var rows []paymentRow
	err := sqlx.SelectContext(ctx, c.ext, &rows, c.ext.Rebind(`
		SELECT `+paymentColumns+` FROM payments p
		WHERE p.enrollment_id = ?
		ORDER BY p.payment_date, p.id`), enrollmentID)
	if err != nil {
		return nil, err
	}
	payments := make([]ledger.Payment, len(rows))
	for i, r := range rows {
		payments[i] = r.toPayment()
	}
	return payments, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	payload := "{}"
	if len(entry.Payload) > 0 {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = string(b)
	}
	_, err := c.exec(ctx, `
		INSERT INTO audit_log (id, at, actor, action, payment_id, enrollment_id, reason, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, formatTime(entry.At), entry.Actor, string(entry.Action),
		nullString(entry.PaymentID), nullString(entry.EnrollmentID), entry.Reason, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
