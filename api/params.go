package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reviewhub/payment-ledger/ledger"
)

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &ledger.FieldError{Field: name, Message: "must be a positive integer", Err: ledger.ErrInvalidInput}
	}
	return n, nil
}

func queryDate(r *http.Request, name string, upper bool, loc *time.Location) (*time.Time, error) {
	t, err := ledger.ParseDateBound(r.URL.Query().Get(name), upper, loc)
	if err != nil {
		return nil, &ledger.FieldError{Field: name, Message: "must be YYYY-MM-DD or RFC3339", Err: ledger.ErrInvalidInput}
	}
	return t, nil
}

// parsePaymentQuery reads the list and export filters:
//
//	status, paymentMethod (or method), dateFrom, dateTo, search (or q),
//	studentId, enrollmentId, program, sortBy, sortOrder, page, limit
//
// Bare dates are calendar days in loc; dateTo covers the whole day.
func parsePaymentQuery(r *http.Request, loc *time.Location) (ledger.PaymentQuery, error) {
	v := r.URL.Query()
	q := ledger.PaymentQuery{
		Search:       firstNonEmpty(v.Get("search"), v.Get("q")),
		StudentID:    v.Get("studentId"),
		EnrollmentID: v.Get("enrollmentId"),
		Program:      v.Get("program"),
	}

	if s := strings.TrimSpace(v.Get("status")); s != "" && !strings.EqualFold(s, "all") {
		st, err := ledger.ParsePaymentStatus(s)
		if err != nil {
			return q, &ledger.FieldError{Field: "status", Message: "unknown status " + strconv.Quote(s), Err: ledger.ErrInvalidStatus}
		}
		q.Status = st
	}
	if s := strings.TrimSpace(firstNonEmpty(v.Get("paymentMethod"), v.Get("method"))); s != "" && !strings.EqualFold(s, "all") {
		m, err := ledger.ParsePaymentMethod(s)
		if err != nil {
			return q, &ledger.FieldError{Field: "paymentMethod", Message: "unknown method " + strconv.Quote(s), Err: ledger.ErrInvalidPaymentMethod}
		}
		q.Method = m
	}

	var err error
	if q.DateFrom, err = queryDate(r, "dateFrom", false, loc); err != nil {
		return q, err
	}
	if q.DateTo, err = queryDate(r, "dateTo", true, loc); err != nil {
		return q, err
	}

	if q.SortBy, err = ledger.ParseSortField(v.Get("sortBy")); err != nil {
		return q, &ledger.FieldError{Field: "sortBy", Message: "must be paymentDate, amount, status or createdAt", Err: ledger.ErrInvalidInput}
	}
	if q.SortOrder, err = ledger.ParseSortOrder(v.Get("sortOrder")); err != nil {
		return q, &ledger.FieldError{Field: "sortOrder", Message: "must be asc or desc", Err: ledger.ErrInvalidInput}
	}

	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

// parseAnalyticsQuery reads from, to, interval and program.
func parseAnalyticsQuery(r *http.Request, loc *time.Location) (ledger.AnalyticsQuery, error) {
	v := r.URL.Query()
	q := ledger.AnalyticsQuery{Program: v.Get("program")}

	var err error
	if q.From, err = queryDate(r, "from", false, loc); err != nil {
		return q, err
	}
	if q.To, err = queryDate(r, "to", true, loc); err != nil {
		return q, err
	}
	if q.Interval, err = ledger.ParseInterval(v.Get("interval")); err != nil {
		return q, &ledger.FieldError{Field: "interval", Message: "must be daily or monthly", Err: ledger.ErrInvalidInput}
	}
	return q, nil
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
