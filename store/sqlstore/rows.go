package sqlstore

import (
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/reviewhub/payment-ledger/ledger"
)

// Row structs mirror the table columns; conversions to ledger types live
// next to them.

type studentRow struct {
	ID        string `db:"id"`
	Code      string `db:"student_code"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
	CreatedAt string `db:"created_at"`
}

func (r studentRow) toStudent() ledger.Student {
	return ledger.Student{
		ID:        r.ID,
		Code:      r.Code,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email,
		Phone:     r.Phone,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

type enrollmentRow struct {
	ID             string `db:"id"`
	StudentID      string `db:"student_id"`
	Program        string `db:"program"`
	Batch          string `db:"batch"`
	AmountCents    int64  `db:"amount_cents"`
	TotalPaidCents int64  `db:"total_paid_cents"`
	PaymentStatus  string `db:"payment_status"`
	CreatedAt      string `db:"created_at"`
	UpdatedAt      string `db:"updated_at"`
}

func (r enrollmentRow) toEnrollment() ledger.Enrollment {
	return ledger.Enrollment{
		ID:            r.ID,
		StudentID:     r.StudentID,
		Program:       r.Program,
		Batch:         r.Batch,
		Amount:        ledger.MoneyFromCents(r.AmountCents),
		TotalPaid:     ledger.MoneyFromCents(r.TotalPaidCents),
		PaymentStatus: ledger.EnrollmentStatus(r.PaymentStatus),
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

const enrollmentColumns = `id, student_id, program, batch, amount_cents, total_paid_cents,
	payment_status, created_at, updated_at`

type paymentRow struct {
	ID              string         `db:"id"`
	TransactionID   string         `db:"transaction_id"`
	ReceiptNumber   string         `db:"receipt_number"`
	EnrollmentID    string         `db:"enrollment_id"`
	StudentID       string         `db:"student_id"`
	BaseCents       int64          `db:"base_amount_cents"`
	DiscountPercent string         `db:"discount_percent"`
	DiscountCents   int64          `db:"discount_cents"`
	TaxPercent      string         `db:"tax_percent"`
	TaxCents        int64          `db:"tax_cents"`
	AmountCents     int64          `db:"amount_cents"`
	Method          string         `db:"payment_method"`
	Status          string         `db:"status"`
	RefundCents     int64          `db:"refund_cents"`
	PaymentDate     string         `db:"payment_date"`
	Notes           string         `db:"notes"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	CreatedBy       string         `db:"created_by"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

const paymentColumns = `p.id, p.transaction_id, p.receipt_number, p.enrollment_id, p.student_id,
	p.base_amount_cents, p.discount_percent, p.discount_cents, p.tax_percent, p.tax_cents,
	p.amount_cents, p.payment_method, p.status, p.refund_cents, p.payment_date, p.notes,
	p.idempotency_key, p.created_by, p.created_at, p.updated_at`

func newPaymentRow(p ledger.Payment) (paymentRow, error) {
	c, err := cents(p.Charge.Base, p.Charge.Discount, p.Charge.Tax, p.Amount, p.RefundAmount)
	if err != nil {
		return paymentRow{}, err
	}
	return paymentRow{
		ID:              p.ID,
		TransactionID:   p.TransactionID,
		ReceiptNumber:   p.ReceiptNumber,
		EnrollmentID:    p.EnrollmentID,
		StudentID:       p.StudentID,
		BaseCents:       c[0],
		DiscountPercent: p.Charge.DiscountPercent.String(),
		DiscountCents:   c[1],
		TaxPercent:      p.Charge.TaxPercent.String(),
		TaxCents:        c[2],
		AmountCents:     c[3],
		Method:          string(p.Method),
		Status:          string(p.Status),
		RefundCents:     c[4],
		PaymentDate:     formatTime(p.PaymentDate),
		Notes:           p.Notes,
		IdempotencyKey:  nullString(p.IdempotencyKey),
		CreatedBy:       p.CreatedBy,
		CreatedAt:       formatTime(p.CreatedAt),
		UpdatedAt:       formatTime(p.UpdatedAt),
	}, nil
}

// cents converts amounts to minor units, failing on the first that does
// not fit a column.
func cents(amounts ...ledger.Money) ([]int64, error) {
	out := make([]int64, len(amounts))
	for i, m := range amounts {
		c, err := m.Cents()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (r paymentRow) toPayment() ledger.Payment {
	discountPct, _ := decimal.NewFromString(r.DiscountPercent)
	taxPct, _ := decimal.NewFromString(r.TaxPercent)
	amount := ledger.MoneyFromCents(r.AmountCents)
	return ledger.Payment{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		ReceiptNumber: r.ReceiptNumber,
		EnrollmentID:  r.EnrollmentID,
		StudentID:     r.StudentID,
		Charge: ledger.Charge{
			Base:            ledger.MoneyFromCents(r.BaseCents),
			DiscountPercent: discountPct,
			Discount:        ledger.MoneyFromCents(r.DiscountCents),
			TaxPercent:      taxPct,
			Tax:             ledger.MoneyFromCents(r.TaxCents),
			Final:           amount,
		},
		Amount:         amount,
		Method:         ledger.PaymentMethod(r.Method),
		Status:         ledger.PaymentStatus(r.Status),
		RefundAmount:   ledger.MoneyFromCents(r.RefundCents),
		PaymentDate:    parseTime(r.PaymentDate),
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
}

// paymentViewRow is a payment joined with its student and enrollment.
type paymentViewRow struct {
	paymentRow
	StudentCode       string `db:"student_code"`
	StudentFirstName  string `db:"student_first_name"`
	StudentLastName   string `db:"student_last_name"`
	StudentEmail      string `db:"student_email"`
	StudentPhone      string `db:"student_phone"`
	StudentCreatedAt  string `db:"student_created_at"`
	Program           string `db:"enrollment_program"`
	Batch             string `db:"enrollment_batch"`
	EnrollmentCents   int64  `db:"enrollment_amount_cents"`
	EnrollmentPaid    int64  `db:"enrollment_total_paid_cents"`
	EnrollmentStatus  string `db:"enrollment_payment_status"`
	EnrollmentCreated string `db:"enrollment_created_at"`
	EnrollmentUpdated string `db:"enrollment_updated_at"`
}

const paymentViewSelect = `SELECT ` + paymentColumns + `,
	s.student_code AS student_code, s.first_name AS student_first_name,
	s.last_name AS student_last_name, s.email AS student_email, s.phone AS student_phone,
	s.created_at AS student_created_at,
	e.program AS enrollment_program, e.batch AS enrollment_batch,
	e.amount_cents AS enrollment_amount_cents, e.total_paid_cents AS enrollment_total_paid_cents,
	e.payment_status AS enrollment_payment_status,
	e.created_at AS enrollment_created_at, e.updated_at AS enrollment_updated_at
	FROM payments p
	JOIN students s ON s.id = p.student_id
	JOIN enrollments e ON e.id = p.enrollment_id`

func (r paymentViewRow) toView() ledger.PaymentView {
	return ledger.PaymentView{
		Payment: r.toPayment(),
		Student: ledger.Student{
			ID:        r.paymentRow.StudentID,
			Code:      r.StudentCode,
			FirstName: r.StudentFirstName,
			LastName:  r.StudentLastName,
			Email:     r.StudentEmail,
			Phone:     r.StudentPhone,
			CreatedAt: parseTime(r.StudentCreatedAt),
		},
		Enrollment: ledger.Enrollment{
			ID:            r.EnrollmentID,
			StudentID:     r.paymentRow.StudentID,
			Program:       r.Program,
			Batch:         r.Batch,
			Amount:        ledger.MoneyFromCents(r.EnrollmentCents),
			TotalPaid:     ledger.MoneyFromCents(r.EnrollmentPaid),
			PaymentStatus: ledger.EnrollmentStatus(r.EnrollmentStatus),
			CreatedAt:     parseTime(r.EnrollmentCreated),
			UpdatedAt:     parseTime(r.EnrollmentUpdated),
		},
	}
}

type auditRow struct {
	ID           string         `db:"id"`
	At           string         `db:"at"`
	Actor        string         `db:"actor"`
	Action       string         `db:"action"`
	PaymentID    sql.NullString `db:"payment_id"`
	EnrollmentID sql.NullString `db:"enrollment_id"`
	Reason       string         `db:"reason"`
	PayloadJSON  string         `db:"payload_json"`
}

func (r auditRow) toEntry() ledger.AuditEntry {
	var payload map[string]any
	_ = json.Unmarshal([]byte(r.PayloadJSON), &payload)
	return ledger.AuditEntry{
		ID:           r.ID,
		At:           parseTime(r.At),
		Actor:        r.Actor,
		Action:       ledger.AuditAction(r.Action),
		PaymentID:    r.PaymentID.String,
		EnrollmentID: r.EnrollmentID.String,
		Reason:       r.Reason,
		Payload:      payload,
	}
}
