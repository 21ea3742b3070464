/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the wire contract: camelCase names, money as JSON
  numbers with two decimals, timestamps as RFC3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  Request amounts and percentages use Number, which accepts both 1000 and
  "1000". The raw text is handed to the ledger, so "abc" surfaces as
  INVALID_AMOUNT rather than a body decoding failure.

VALIDATION:
  Shape checks (required, max length, email) are validate tags checked in
  validation.go. Money and state rules stay in the ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Tag validation and error envelope
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reviewhub/payment-ledger/ledger"
	"github.com/reviewhub/payment-ledger/store/sqlstore"
)

// Number is a JSON number or numeric string, kept as raw text.
type Number string

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*n = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		*n = Number(b)
	default:
		return fmt.Errorf("expected a number, got %s", b)
	}
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

// CreatePaymentRequest is the body of POST /api/payments.
type CreatePaymentRequest struct {
	StudentID      string `json:"studentId" validate:"required,max=64"`
	EnrollmentID   string `json:"enrollmentId" validate:"max=64"`
	Amount         Number `json:"amount"`
	PaymentMethod  string `json:"paymentMethod" validate:"max=32"`
	Discount       Number `json:"discount"`
	Tax            Number `json:"tax"`
	Notes          string `json:"notes" validate:"max=2000"`
	Status         string `json:"status" validate:"max=32"`
	PaymentDate    string `json:"paymentDate"`
	IdempotencyKey string `json:"idempotencyKey" validate:"max=128"`
	Program        string `json:"program" validate:"max=100"`
	Batch          string `json:"batch" validate:"max=100"`
	CreatedBy      string `json:"createdBy" validate:"max=100"`
}

// RefundRequest is the body of POST /api/payments/{id}/refund and
// POST /api/refunds. PaymentID is only read by the latter.
type RefundRequest struct {
	PaymentID    string `json:"paymentId" validate:"max=64"`
	RefundAmount Number `json:"refundAmount"`
	RefundReason string `json:"refundReason" validate:"max=500"`
	ProcessedBy  string `json:"processedBy" validate:"max=100"`
}

// SettleRequest is the body of POST /api/payments/{id}/settle.
type SettleRequest struct {
	Status      string `json:"status" validate:"required"`
	Reason      string `json:"reason" validate:"max=500"`
	ProcessedBy string `json:"processedBy" validate:"max=100"`
}

// UpdatePaymentRequest is the body of PATCH /api/payments/{id}. Only notes
// are editable; amounts and status change through refund and settle.
type UpdatePaymentRequest struct {
	Notes     *string `json:"notes" validate:"required"`
	UpdatedBy string  `json:"updatedBy" validate:"max=100"`
}

type CreateEnrollmentRequest struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
	Program   string `json:"program" validate:"required,notblank,max=100"`
	Batch     string `json:"batch" validate:"max=100"`
	Amount    Number `json:"amount"`
	CreatedBy string `json:"createdBy" validate:"max=100"`
}

type CreateStudentRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	StudentCode string `json:"studentCode" validate:"required,notblank,max=32"`
	FirstName   string `json:"firstName" validate:"required,notblank,max=100"`
	LastName    string `json:"lastName" validate:"required,notblank,max=100"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,max=32"`
}

type RunAuditRequest struct {
	Repair *bool `json:"repair"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details any               `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type StudentDTO struct {
	ID          string `json:"id"`
	StudentCode string `json:"studentCode"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	FullName    string `json:"fullName"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type EnrollmentDTO struct {
	ID               string       `json:"id"`
	StudentID        string       `json:"studentId"`
	Program          string       `json:"program"`
	Batch            string       `json:"batch,omitempty"`
	Amount           ledger.Money `json:"amount"`
	TotalPaid        ledger.Money `json:"totalPaid"`
	RemainingBalance ledger.Money `json:"remainingBalance"`
	DisplayBalance   ledger.Money `json:"displayBalance"`
	PaymentStatus    string       `json:"paymentStatus"`
	CreatedAt        string       `json:"createdAt"`
	UpdatedAt        string       `json:"updatedAt"`
}

type PaymentDTO struct {
	ID               string         `json:"id"`
	TransactionID    string         `json:"transactionId"`
	ReceiptNumber    string         `json:"receiptNumber"`
	EnrollmentID     string         `json:"enrollmentId"`
	StudentID        string         `json:"studentId"`
	BaseAmount       ledger.Money   `json:"baseAmount"`
	DiscountPercent  string         `json:"discountPercent"`
	DiscountAmount   ledger.Money   `json:"discountAmount"`
	TaxPercent       string         `json:"taxPercent"`
	TaxAmount        ledger.Money   `json:"taxAmount"`
	Amount           ledger.Money   `json:"amount"`
	PaymentMethod    string         `json:"paymentMethod"`
	Status           string         `json:"status"`
	RefundAmount     ledger.Money   `json:"refundAmount"`
	RefundableAmount ledger.Money   `json:"refundableAmount"`
	PaymentDate      string         `json:"paymentDate"`
	Notes            string         `json:"notes,omitempty"`
	CreatedBy        string         `json:"createdBy,omitempty"`
	CreatedAt        string         `json:"createdAt"`
	UpdatedAt        string         `json:"updatedAt"`
	Student          *StudentDTO    `json:"student,omitempty"`
	Enrollment       *EnrollmentDTO `json:"enrollment,omitempty"`
}

// ReceiptDTO is the response of payment creation and the receipt endpoint.
type ReceiptDTO struct {
	Payment           PaymentDTO `json:"payment"`
	EnrollmentCreated bool       `json:"enrollmentCreated"`
	Replayed          bool       `json:"replayed"`
	VerificationURL   string     `json:"verificationUrl"`
}

type RefundResponse struct {
	Payment  PaymentDTO   `json:"payment"`
	Refunded ledger.Money `json:"refunded"`
}

type PaginationDTO struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type ListPaymentsResponse struct {
	Payments   []PaymentDTO  `json:"payments"`
	Pagination PaginationDTO `json:"pagination"`
	Analytics  *AnalyticsDTO `json:"analytics,omitempty"`
}

// ExportResponse is the JSON export. Count is the number of rows returned,
// Total the number that matched.
type ExportResponse struct {
	Payments  []PaymentDTO `json:"payments"`
	Count     int          `json:"count"`
	Total     int          `json:"total"`
	Truncated bool         `json:"truncated"`
}

type BucketDTO struct {
	Count  int          `json:"count"`
	Amount ledger.Money `json:"amount"`
}

type RevenueDTO struct {
	AllTime   ledger.Money  `json:"allTime"`
	ThisMonth ledger.Money  `json:"thisMonth"`
	ThisYear  ledger.Money  `json:"thisYear"`
	Range     *ledger.Money `json:"range,omitempty"`
}

type TrendPointDTO struct {
	Period          string       `json:"period"`
	Completed       int          `json:"completed"`
	Pending         int          `json:"pending"`
	CompletedAmount ledger.Money `json:"completedAmount"`
}

type AnalyticsDTO struct {
	Revenue         RevenueDTO           `json:"revenue"`
	NetCollected    ledger.Money         `json:"netCollected"`
	TotalRefunded   ledger.Money         `json:"totalRefunded"`
	PaymentCount    int                  `json:"paymentCount"`
	Outstanding     ledger.Money         `json:"outstanding"`
	EnrollmentCount int                  `json:"enrollmentCount"`
	ByStatus        map[string]BucketDTO `json:"byStatus"`
	ByMethod        map[string]BucketDTO `json:"byMethod"`
	ByProgram       map[string]BucketDTO `json:"byProgram"`
	Interval        string               `json:"interval"`
	Trend           []TrendPointDTO      `json:"trend"`
	GeneratedAt     string               `json:"generatedAt"`
}

// VerifyDTO is the public receipt verification result. It carries only
// what is printed on the receipt itself.
type VerifyDTO struct {
	Valid         bool         `json:"valid"`
	TransactionID string       `json:"transactionId"`
	ReceiptNumber string       `json:"receiptNumber"`
	StudentName   string       `json:"studentName"`
	Program       string       `json:"program"`
	Amount        ledger.Money `json:"amount"`
	RefundAmount  ledger.Money `json:"refundAmount"`
	PaymentMethod string       `json:"paymentMethod"`
	Status        string       `json:"status"`
	PaymentDate   string       `json:"paymentDate"`
}

type AuditEntryDTO struct {
	ID           string         `json:"id"`
	At           string         `json:"at"`
	Actor        string         `json:"actor,omitempty"`
	Action       string         `json:"action"`
	PaymentID    string         `json:"paymentId,omitempty"`
	EnrollmentID string         `json:"enrollmentId,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type DriftDTO struct {
	EnrollmentID    string       `json:"enrollmentId"`
	StoredTotalPaid ledger.Money `json:"storedTotalPaid"`
	ActualTotalPaid ledger.Money `json:"actualTotalPaid"`
	StoredStatus    string       `json:"storedStatus"`
	ActualStatus    string       `json:"actualStatus"`
	Repaired        bool         `json:"repaired"`
}

type AuditRunDTO struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Repair     bool       `json:"repair"`
	Checked    int        `json:"checked"`
	Drifts     int        `json:"drifts"`
	Repaired   int        `json:"repaired"`
	Error      string     `json:"error,omitempty"`
	StartedAt  string     `json:"startedAt"`
	FinishedAt string     `json:"finishedAt,omitempty"`
	Details    []DriftDTO `json:"details,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toStudentDTO(s ledger.Student) StudentDTO {
	return StudentDTO{
		ID:          s.ID,
		StudentCode: s.Code,
		FirstName:   s.FirstName,
		LastName:    s.LastName,
		FullName:    s.FullName(),
		Email:       s.Email,
		Phone:       s.Phone,
	}
}

func toEnrollmentDTO(e ledger.Enrollment) EnrollmentDTO {
	return EnrollmentDTO{
		ID:               e.ID,
		StudentID:        e.StudentID,
		Program:          e.Program,
		Batch:            e.Batch,
		Amount:           e.Amount,
		TotalPaid:        e.TotalPaid,
		RemainingBalance: e.RemainingBalance(),
		DisplayBalance:   e.DisplayBalance(),
		PaymentStatus:    string(e.PaymentStatus),
		CreatedAt:        formatTimestamp(e.CreatedAt),
		UpdatedAt:        formatTimestamp(e.UpdatedAt),
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:               p.ID,
		TransactionID:    p.TransactionID,
		ReceiptNumber:    p.ReceiptNumber,
		EnrollmentID:     p.EnrollmentID,
		StudentID:        p.StudentID,
		BaseAmount:       p.Charge.Base,
		DiscountPercent:  p.Charge.DiscountPercent.String(),
		DiscountAmount:   p.Charge.Discount,
		TaxPercent:       p.Charge.TaxPercent.String(),
		TaxAmount:        p.Charge.Tax,
		Amount:           p.Amount,
		PaymentMethod:    string(p.Method),
		Status:           string(p.Status),
		RefundAmount:     p.RefundAmount,
		RefundableAmount: p.Refundable(),
		PaymentDate:      formatTimestamp(p.PaymentDate),
		Notes:            p.Notes,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        formatTimestamp(p.CreatedAt),
		UpdatedAt:        formatTimestamp(p.UpdatedAt),
	}
}

// toPaymentViewDTO embeds the student and enrollment of a projection.
func toPaymentViewDTO(v ledger.PaymentView) PaymentDTO {
	dto := toPaymentDTO(v.Payment)
	student := toStudentDTO(v.Student)
	enrollment := toEnrollmentDTO(v.Enrollment)
	dto.Student = &student
	dto.Enrollment = &enrollment
	return dto
}

func toBuckets[K ~string](m map[K]ledger.Bucket) map[string]BucketDTO {
	out := make(map[string]BucketDTO, len(m))
	for k, b := range m {
		out[string(k)] = BucketDTO{Count: b.Count, Amount: b.Amount}
	}
	return out
}

func toAnalyticsDTO(s ledger.Summary) AnalyticsDTO {
	trend := make([]TrendPointDTO, len(s.Trend))
	for i, p := range s.Trend {
		trend[i] = TrendPointDTO{
			Period:          p.Period,
			Completed:       p.Completed,
			Pending:         p.Pending,
			CompletedAmount: p.CompletedAmount,
		}
	}
	return AnalyticsDTO{
		Revenue: RevenueDTO{
			AllTime:   s.Revenue.AllTime,
			ThisMonth: s.Revenue.ThisMonth,
			ThisYear:  s.Revenue.ThisYear,
			Range:     s.Revenue.Range,
		},
		NetCollected:    s.NetCollected,
		TotalRefunded:   s.TotalRefunded,
		PaymentCount:    s.PaymentCount,
		Outstanding:     s.Outstanding,
		EnrollmentCount: s.EnrollmentCount,
		ByStatus:        toBuckets(s.ByStatus),
		ByMethod:        toBuckets(s.ByMethod),
		ByProgram:       toBuckets(s.ByProgram),
		Interval:        string(s.Interval),
		Trend:           trend,
		GeneratedAt:     formatTimestamp(s.GeneratedAt),
	}
}

func toVerifyDTO(v ledger.PaymentView) VerifyDTO {
	return VerifyDTO{
		Valid:         true,
		TransactionID: v.Payment.TransactionID,
		ReceiptNumber: v.Payment.ReceiptNumber,
		StudentName:   v.Student.FullName(),
		Program:       v.Enrollment.Program,
		Amount:        v.Payment.Amount,
		RefundAmount:  v.Payment.RefundAmount,
		PaymentMethod: string(v.Payment.Method),
		Status:        string(v.Payment.Status),
		PaymentDate:   formatTimestamp(v.Payment.PaymentDate),
	}
}

func toAuditEntryDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:           e.ID,
		At:           formatTimestamp(e.At),
		Actor:        e.Actor,
		Action:       string(e.Action),
		PaymentID:    e.PaymentID,
		EnrollmentID: e.EnrollmentID,
		Reason:       e.Reason,
		Payload:      e.Payload,
	}
}

func toDriftDTOs(drifts []ledger.BalanceDrift) []DriftDTO {
	out := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		out[i] = DriftDTO{
			EnrollmentID:    d.EnrollmentID,
			StoredTotalPaid: d.StoredTotalPaid,
			ActualTotalPaid: d.ActualTotalPaid,
			StoredStatus:    string(d.StoredStatus),
			ActualStatus:    string(d.ActualStatus),
			Repaired:        d.Repaired,
		}
	}
	return out
}

func toAuditRunDTO(r sqlstore.AuditRun) AuditRunDTO {
	dto := AuditRunDTO{
		ID:        r.ID,
		Trigger:   r.Trigger,
		Status:    r.Status,
		Repair:    r.Repair,
		Checked:   r.Checked,
		Drifts:    r.Drifts,
		Repaired:  r.Repaired,
		Error:     r.Error,
		StartedAt: formatTimestamp(r.StartedAt),
	}
	if r.FinishedAt != nil {
		dto.FinishedAt = formatTimestamp(*r.FinishedAt)
	}
	return dto
}
