/*
query.go - Ledger Query Service

PURPOSE:
  Read-side access to payments for the admin list view, exports and
  receipt verification. Results are projections (PaymentView) combining a
  payment with its student and enrollment; they are never persisted.

PAGINATION:
  Total comes from a separate COUNT over the same predicate as the page
  query, not from the page slice. Ordering always ends with the payment id
  so repeated reads return the same sequence.

SEE ALSO:
  - store/sqlstore/queries.go: SQL rendering of PaymentQuery
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// QUERY
// =============================================================================

type SortField string

const (
	SortPaymentDate SortField = "paymentDate"
	SortAmount      SortField = "amount"
	SortStatus      SortField = "status"
	SortCreatedAt   SortField = "createdAt"
)

// ParseSortField accepts camelCase or snake_case names. Empty means
// paymentDate.
func ParseSortField(s string) (SortField, error) {
	switch normalizeTag(s) {
	case "", "paymentdate", "payment_date":
		return SortPaymentDate, nil
	case "amount":
		return SortAmount, nil
	case "status":
		return SortStatus, nil
	case "createdat", "created_at":
		return SortCreatedAt, nil
	}
	return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalidInput, s)
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desc":
		return SortDesc, nil
	case "asc":
		return SortAsc, nil
	}
	return "", fmt.Errorf("%w: sort order must be asc or desc", ErrInvalidInput)
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PaymentQuery selects payments. Zero values mean "no filter".
type PaymentQuery struct {
	Status       PaymentStatus
	Method       PaymentMethod
	DateFrom     *time.Time
	DateTo       *time.Time
	Search       string
	StudentID    string
	EnrollmentID string
	Program      string

	SortBy    SortField
	SortOrder SortOrder

	Page  int
	Limit int
}

// Normalize applies defaults and clamps pagination.
func (q PaymentQuery) Normalize() PaymentQuery {
	q.Search = strings.TrimSpace(q.Search)
	if q.SortBy == "" {
		q.SortBy = SortPaymentDate
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return q
}

// Offset is the number of rows skipped before the current page.
func (q PaymentQuery) Offset() int { return (q.Page - 1) * q.Limit }

func (q PaymentQuery) validate() error {
	if q.Status != "" && !q.Status.Valid() {
		return &FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", q.Status), Err: ErrInvalidStatus}
	}
	if q.Method != "" && !q.Method.Valid() {
		return &FieldError{Field: "paymentMethod", Message: fmt.Sprintf("unknown method %q", q.Method), Err: ErrInvalidPaymentMethod}
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return &FieldError{Field: "dateFrom", Message: "must not be after dateTo", Err: ErrInvalidInput}
	}
	return nil
}

// =============================================================================
// RESULTS
// =============================================================================

// PaymentView is a payment with its student and enrollment denormalized.
type PaymentView struct {
	Payment    Payment
	Student    Student
	Enrollment Enrollment
}

type Page struct {
	Payments   []PaymentView
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ListPayments returns one page of payments matching q.
func (l *Ledger) ListPayments(ctx context.Context, q PaymentQuery) (Page, error) {
	q = q.Normalize()
	if err := q.validate(); err != nil {
		return Page{}, err
	}

	total, err := l.views.CountPayments(ctx, q)
	if err != nil {
		return Page{}, persistence(err)
	}
	rows, err := l.views.QueryPayments(ctx, q)
	if err != nil {
		return Page{}, persistence(err)
	}
	if rows == nil {
		rows = []PaymentView{}
	}

	return Page{
		Payments:   rows,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// GetPayment returns the projection of one payment.
func (l *Ledger) GetPayment(ctx context.Context, id string) (PaymentView, error) {
	v, err := l.views.GetPaymentView(ctx, id)
	if err != nil {
		return PaymentView{}, persistence(err)
	}
	if v == nil {
		return PaymentView{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	return *v, nil
}

// VerifyReceipt looks a payment up by transaction id or receipt number.
// The match is exact apart from case; partial references never match.
func (l *Ledger) VerifyReceipt(ctx context.Context, ref string) (PaymentView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return PaymentView{}, fmt.Errorf("%w: empty reference", ErrPaymentNotFound)
	}
	v, err := l.views.FindPaymentByReference(ctx, ref)
	if err != nil {
		return PaymentView{}, persistence(err)
	}
	if v == nil {
		return PaymentView{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, ref)
	}
	return *v, nil
}

// Export is the unpaginated result of an export. Total counts every
// matching payment; Truncated is set when Total exceeds the export limit
// and Payments holds only the first rows in list order.
type Export struct {
	Payments  []PaymentView
	Total     int
	Truncated bool
}

// ExportPayments returns every payment matching q in list order, ignoring
// pagination. At most the configured export limit rows are returned, and
// the result says so when more matched.
func (l *Ledger) ExportPayments(ctx context.Context, q PaymentQuery) (Export, error) {
	q = q.Normalize()
	if err := q.validate(); err != nil {
		return Export{}, err
	}
	q.Page = 1
	q.Limit = l.exportLimit

	total, err := l.views.CountPayments(ctx, q)
	if err != nil {
		return Export{}, persistence(err)
	}
	rows, err := l.views.QueryPayments(ctx, q)
	if err != nil {
		return Export{}, persistence(err)
	}
	if rows == nil {
		rows = []PaymentView{}
	}
	if total < len(rows) {
		total = len(rows)
	}

	if total > len(rows) {
		l.log.Warn("payment export truncated",
			zap.Int("total", total),
			zap.Int("limit", l.exportLimit),
		)
	}
	return Export{Payments: rows, Total: total, Truncated: total > len(rows)}, nil
}
