/*
queries.go - Read-side projections (ledger.ViewStore)

PURPOSE:
  Renders a ledger.PaymentQuery into one WHERE clause shared by the page
  query and the COUNT query, so total and rows always describe the same
  selection.

SEARCH:
  Case-insensitive substring over transaction id, receipt number, student
  first name, last name, full name and student code. LIKE wildcards in
  the search text are escaped.

SORT:
  Sort columns come from a fixed map, never from user text. The payment id
  is always the final sort key.
*/
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/reviewhub/payment-ledger/ledger"
)

var sortColumns = map[ledger.SortField]string{
	ledger.SortPaymentDate: "p.payment_date",
	ledger.SortAmount:      "p.amount_cents",
	ledger.SortStatus:      "p.status",
	ledger.SortCreatedAt:   "p.created_at",
}

// where renders the filter predicate of q.
func where(q ledger.PaymentQuery) (string, []any) {
	var clauses []string
	var args []any

	if q.Status != "" {
		clauses = append(clauses, "p.status = ?")
		args = append(args, string(q.Status))
	}
	if q.Method != "" {
		clauses = append(clauses, "p.payment_method = ?")
		args = append(args, string(q.Method))
	}
	if q.DateFrom != nil {
		clauses = append(clauses, "p.payment_date >= ?")
		args = append(args, formatTime(*q.DateFrom))
	}
	if q.DateTo != nil {
		clauses = append(clauses, "p.payment_date <= ?")
		args = append(args, formatTime(*q.DateTo))
	}
	if q.StudentID != "" {
		clauses = append(clauses, "p.student_id = ?")
		args = append(args, q.StudentID)
	}
	if q.EnrollmentID != "" {
		clauses = append(clauses, "p.enrollment_id = ?")
		args = append(args, q.EnrollmentID)
	}
	if q.Program != "" {
		clauses = append(clauses, "e.program = ?")
		args = append(args, q.Program)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		clauses = append(clauses, `(
			LOWER(p.transaction_id) LIKE ? ESCAPE '\' OR
			LOWER(p.receipt_number) LIKE ? ESCAPE '\' OR
			LOWER(s.first_name) LIKE ? ESCAPE '\' OR
			LOWER(s.last_name) LIKE ? ESCAPE '\' OR
			LOWER(s.first_name || ' ' || s.last_name) LIKE ? ESCAPE '\' OR
			LOWER(s.student_code) LIKE ? ESCAPE '\'
		)`)
		for i := 0; i < 6; i++ {
			args = append(args, pattern)
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderBy(q ledger.PaymentQuery) string {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = sortColumns[ledger.SortPaymentDate]
	}
	dir := "DESC"
	if q.SortOrder == ledger.SortAsc {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, p.id %s", col, dir, dir)
}

// QueryPayments returns the page of payments selected by q. q must be
// normalized; Limit is used as given.
func (s *Store) QueryPayments(ctx context.Context, q ledger.PaymentQuery) ([]ledger.PaymentView, error) {
	pred, args := where(q)
	query := paymentViewSelect + pred + orderBy(q) + " LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset())

	var rows []paymentViewRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	views := make([]ledger.PaymentView, len(rows))
	for i, r := range rows {
		views[i] = r.toView()
	}
	return views, nil
}

// CountPayments counts every payment selected by q, ignoring pagination.
func (s *Store) CountPayments(ctx context.Context, q ledger.PaymentQuery) (int, error) {
	pred, args := where(q)
	query := `SELECT COUNT(*) FROM payments p
		JOIN students s ON s.id = p.student_id
		JOIN enrollments e ON e.id = p.enrollment_id` + pred

	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n, s.ext.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

func (s *Store) GetPaymentView(ctx context.Context, id string) (*ledger.PaymentView, error) {
	var r paymentViewRow
	ok, err := s.get(ctx, &r, paymentViewSelect+` WHERE p.id = ?`, id)
	if err != nil || !ok {
		return nil, err
	}
	v := r.toView()
	return &v, nil
}

func (s *Store) FindPaymentByReference(ctx context.Context, ref string) (*ledger.PaymentView, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	var r paymentViewRow
	ok, err := s.get(ctx, &r, paymentViewSelect+`
		WHERE LOWER(p.transaction_id) = ? OR LOWER(p.receipt_number) = ?
		ORDER BY p.id LIMIT 1`, ref, ref)
	if err != nil || !ok {
		return nil, err
	}
	v := r.toView()
	return &v, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (s *Store) ListEnrollmentsByStudent(ctx context.Context, studentID string) ([]ledger.Enrollment, error) {
	var rows []enrollmentRow
	err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(`
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE student_id = ?
		ORDER BY created_at, id`), studentID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Enrollment, len(rows))
	for i, r := range rows {
		out[i] = r.toEnrollment()
	}
	return out, nil
}

func (s *Store) ListEnrollmentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, s.ext, &ids, `SELECT id FROM enrollments ORDER BY created_at, id`)
	return ids, err
}

// =============================================================================
// ANALYTICS FACTS
// =============================================================================

type paymentFactRow struct {
	Status      string `db:"status"`
	Method      string `db:"payment_method"`
	Program     string `db:"program"`
	AmountCents int64  `db:"amount_cents"`
	RefundCents int64  `db:"refund_cents"`
	PaymentDate string `db:"payment_date"`
}

func (s *Store) PaymentFacts(ctx context.Context, program string) ([]ledger.PaymentFact, error) {
	query := `
		SELECT p.status, p.payment_method, e.program, p.amount_cents, p.refund_cents, p.payment_date
		FROM payments p JOIN enrollments e ON e.id = p.enrollment_id`
	var args []any
	if program != "" {
		query += ` WHERE e.program = ?`
		args = append(args, program)
	}

	var rows []paymentFactRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load payment facts: %w", err)
	}
	facts := make([]ledger.PaymentFact, len(rows))
	for i, r := range rows {
		facts[i] = ledger.PaymentFact{
			Status:       ledger.PaymentStatus(r.Status),
			Method:       ledger.PaymentMethod(r.Method),
			Program:      r.Program,
			Amount:       ledger.MoneyFromCents(r.AmountCents),
			RefundAmount: ledger.MoneyFromCents(r.RefundCents),
			PaymentDate:  parseTime(r.PaymentDate),
		}
	}
	return facts, nil
}

type enrollmentFactRow struct {
	Program        string `db:"program"`
	AmountCents    int64  `db:"amount_cents"`
	TotalPaidCents int64  `db:"total_paid_cents"`
}

func (s *Store) EnrollmentFacts(ctx context.Context, program string) ([]ledger.EnrollmentFact, error) {
	query := `SELECT program, amount_cents, total_paid_cents FROM enrollments`
	var args []any
	if program != "" {
		query += ` WHERE program = ?`
		args = append(args, program)
	}

	var rows []enrollmentFactRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load enrollment facts: %w", err)
	}
	facts := make([]ledger.EnrollmentFact, len(rows))
	for i, r := range rows {
		facts[i] = ledger.EnrollmentFact{
			Program:   r.Program,
			Amount:    ledger.MoneyFromCents(r.AmountCents),
			TotalPaid: ledger.MoneyFromCents(r.TotalPaidCents),
		}
	}
	return facts, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AuditTrail returns matching audit entries, oldest first.
func (s *Store) AuditTrail(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `SELECT id, at, actor, action, payment_id, enrollment_id, reason, payload_json
		FROM audit_log WHERE 1 = 1`
	var args []any
	if f.PaymentID != "" {
		query += ` AND payment_id = ?`
		args = append(args, f.PaymentID)
	}
	if f.EnrollmentID != "" {
		query += ` AND enrollment_id = ?`
		args = append(args, f.EnrollmentID)
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		query += ` AND action IN (?)`
		args = append(args, actions)
	}
	query += ` ORDER BY at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []auditRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	entries := make([]ledger.AuditEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	return entries, nil
}
