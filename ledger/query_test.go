package ledger_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewhub/payment-ledger/ledger"
)

func day(s string) *time.Time {
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		panic(err)
	}
	t = t.Add(9 * time.Hour)
	return &t
}

// queryFixture holds five payments over two students:
//
//	A  Maria  1000  cash           completed  2026-03-01
//	B  Maria  2500  card           completed  2026-03-05
//	C  Maria   700  bank_transfer  pending    2026-03-10
//	D  Jose   1500  cash           completed  2026-02-15
//	E  Jose    300  mobile_wallet  refunded   2026-03-12
type queryFixture struct {
	l                 *ledger.Ledger
	a, b, c, d, e     ledger.Payment
	mariaEnrollmentID string
}

func newQueryFixture(t *testing.T) queryFixture {
	l, store := newTestLedger(t)
	seedStudent(t, store, "stu-1", "RC-0001", "Maria", "Santos")
	seedStudent(t, store, "stu-2", "RC-0002", "Jose", "Rizal")
	maria := seedEnrollment(t, l, "stu-1", "10000")
	jose := seedEnrollment(t, l, "stu-2", "10000")

	f := queryFixture{l: l, mariaEnrollmentID: maria.ID}
	f.a = record(t, l, ledger.RecordInput{StudentID: "stu-1", EnrollmentID: maria.ID, Amount: "1000", Method: "cash", PaymentDate: day("2026-03-01")}).Payment
	f.b = record(t, l, ledger.RecordInput{StudentID: "stu-1", EnrollmentID: maria.ID, Amount: "2500", Method: "card", PaymentDate: day("2026-03-05")}).Payment
	f.c = record(t, l, ledger.RecordInput{StudentID: "stu-1", EnrollmentID: maria.ID, Amount: "700", Method: "bank_transfer", Status: "pending", PaymentDate: day("2026-03-10")}).Payment
	f.d = record(t, l, ledger.RecordInput{StudentID: "stu-2", EnrollmentID: jose.ID, Amount: "1500", Method: "cash", PaymentDate: day("2026-02-15")}).Payment
	f.e = record(t, l, ledger.RecordInput{StudentID: "stu-2", EnrollmentID: jose.ID, Amount: "300", Method: "mobile_wallet", PaymentDate: day("2026-03-12")}).Payment

	_, err := l.RefundPayment(context.Background(), ledger.RefundInput{PaymentID: f.e.ID, Amount: "300", Reason: "dropped out"})
	require.NoError(t, err)
	return f
}

func viewIDs(views []ledger.PaymentView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Payment.ID
	}
	return out
}

// =============================================================================
// LIST, FILTER, SORT, PAGINATE
// =============================================================================

func TestListPayments_DefaultOrderIsNewestFirst(t *testing.T) {
	f := newQueryFixture(t)

	page, err := f.l.ListPayments(context.Background(), ledger.PaymentQuery{})
	require.NoError(t, err)

	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, ledger.DefaultPageSize, page.Limit)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, []string{f.e.ID, f.c.ID, f.b.ID, f.a.ID, f.d.ID}, viewIDs(page.Payments))

	e := page.Payments[0]
	assert.Equal(t, ledger.StatusRefunded, e.Payment.Status)
	assert.Equal(t, "Jose Rizal", e.Student.FullName())
	assert.Equal(t, "RC-0002", e.Student.Code)
	assertMoney(t, "1500", e.Enrollment.TotalPaid)
}

func TestListPayments_Filters(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	loc := time.UTC

	from, err := ledger.ParseDateBound("2026-03-01", false, loc)
	require.NoError(t, err)
	to, err := ledger.ParseDateBound("2026-03-05", true, loc)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query ledger.PaymentQuery
		want  []string
	}{
		{"status", ledger.PaymentQuery{Status: ledger.StatusCompleted}, []string{f.b.ID, f.a.ID, f.d.ID}},
		{"method", ledger.PaymentQuery{Method: ledger.MethodCash}, []string{f.a.ID, f.d.ID}},
		{"date range includes whole end day", ledger.PaymentQuery{DateFrom: from, DateTo: to}, []string{f.b.ID, f.a.ID}},
		{"student", ledger.PaymentQuery{StudentID: "stu-2"}, []string{f.e.ID, f.d.ID}},
		{"enrollment", ledger.PaymentQuery{EnrollmentID: f.mariaEnrollmentID}, []string{f.c.ID, f.b.ID, f.a.ID}},
		{"search last name any case", ledger.PaymentQuery{Search: "RIZAL"}, []string{f.e.ID, f.d.ID}},
		{"search full name", ledger.PaymentQuery{Search: "maria santos"}, []string{f.c.ID, f.b.ID, f.a.ID}},
		{"search student code", ledger.PaymentQuery{Search: "rc-0002"}, []string{f.e.ID, f.d.ID}},
		{"search receipt number", ledger.PaymentQuery{Search: f.b.ReceiptNumber}, []string{f.b.ID}},
		{"search wildcard is literal", ledger.PaymentQuery{Search: "%"}, []string{}},
		{"filters combine", ledger.PaymentQuery{Status: ledger.StatusCompleted, Search: "santos", Method: ledger.MethodCard}, []string{f.b.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.l.ListPayments(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), page.Total)
			assert.Equal(t, tt.want, viewIDs(page.Payments))
		})
	}
}

func TestListPayments_SortAndPagination(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	asc, err := f.l.ListPayments(ctx, ledger.PaymentQuery{SortBy: ledger.SortAmount, SortOrder: ledger.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{f.e.ID, f.c.ID, f.a.ID, f.d.ID, f.b.ID}, viewIDs(asc.Payments))

	// GIVEN: limit 2 over five payments
	// WHEN: Walking every page
	// THEN: Each payment appears exactly once and total never changes
	var seen []string
	for p := 1; p <= 3; p++ {
		page, err := f.l.ListPayments(ctx, ledger.PaymentQuery{Page: p, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.TotalPages)
		seen = append(seen, viewIDs(page.Payments)...)
	}
	assert.Equal(t, []string{f.e.ID, f.c.ID, f.b.ID, f.a.ID, f.d.ID}, seen)

	past, err := f.l.ListPayments(ctx, ledger.PaymentQuery{Page: 4, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, past.Payments)
	assert.NotNil(t, past.Payments)
	assert.Equal(t, 5, past.Total)

	clamped, err := f.l.ListPayments(ctx, ledger.PaymentQuery{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxPageSize, clamped.Limit)
}

func TestListPayments_IsRepeatable(t *testing.T) {
	f := newQueryFixture(t)
	q := ledger.PaymentQuery{SortBy: ledger.SortStatus, Limit: 3}

	first, err := f.l.ListPayments(context.Background(), q)
	require.NoError(t, err)
	second, err := f.l.ListPayments(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, viewIDs(first.Payments), viewIDs(second.Payments))
	assert.Equal(t, first.Total, second.Total)
}

func TestListPayments_RejectsInvalidQuery(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	_, err := f.l.ListPayments(ctx, ledger.PaymentQuery{Status: "settled"})
	assert.ErrorIs(t, err, ledger.ErrInvalidStatus)

	_, err = f.l.ListPayments(ctx, ledger.PaymentQuery{Method: "cheque"})
	assert.ErrorIs(t, err, ledger.ErrInvalidPaymentMethod)

	_, err = f.l.ListPayments(ctx, ledger.PaymentQuery{DateFrom: day("2026-03-10"), DateTo: day("2026-03-01")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestParseSortFieldAndOrder(t *testing.T) {
	f, err := ledger.ParseSortField("payment_date")
	require.NoError(t, err)
	assert.Equal(t, ledger.SortPaymentDate, f)

	f, err = ledger.ParseSortField("createdAt")
	require.NoError(t, err)
	assert.Equal(t, ledger.SortCreatedAt, f)

	_, err = ledger.ParseSortField("student_name")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	o, err := ledger.ParseSortOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, ledger.SortAsc, o)

	_, err = ledger.ParseSortOrder("up")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

// =============================================================================
// VERIFY AND EXPORT
// =============================================================================

func TestVerifyReceipt(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	v, err := f.l.VerifyReceipt(ctx, "  "+strings.ToLower(f.b.TransactionID)+" ")
	require.NoError(t, err)
	assert.Equal(t, f.b.ID, v.Payment.ID)
	assert.Equal(t, "Maria Santos", v.Student.FullName())

	v, err = f.l.VerifyReceipt(ctx, strings.ToLower(f.e.ReceiptNumber))
	require.NoError(t, err)
	assert.Equal(t, f.e.ID, v.Payment.ID)
	assert.Equal(t, ledger.StatusRefunded, v.Payment.Status)

	for _, ref := range []string{"", f.b.TransactionID[:6], "TXN-0"} {
		_, err := f.l.VerifyReceipt(ctx, ref)
		assert.ErrorIs(t, err, ledger.ErrPaymentNotFound, "ref %q", ref)
	}
}

func TestExportPayments_MatchesListOrderWithoutPaging(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	q := ledger.PaymentQuery{Search: "santos", SortBy: ledger.SortAmount, SortOrder: ledger.SortAsc, Page: 2, Limit: 1}

	export, err := f.l.ExportPayments(ctx, q)
	require.NoError(t, err)
	rows := export.Payments
	assert.Equal(t, 3, export.Total)
	assert.False(t, export.Truncated)

	q.Page, q.Limit = 1, ledger.MaxPageSize
	page, err := f.l.ListPayments(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, []string{f.c.ID, f.a.ID, f.b.ID}, viewIDs(rows))
	assert.Equal(t, viewIDs(page.Payments), viewIDs(rows))
}

func TestExportPayments_ReportsTruncation(t *testing.T) {
	// GIVEN: Three payments and an export limit of two
	// WHEN: Exporting without filters
	// THEN: Two rows come back, the total says three and the export is truncated

	l, store := newTestLedger(t, ledger.WithExportLimit(2))
	seedStudent(t, store, "stu-1", "RC-0001", "Maria", "Santos")
	seedStudent(t, store, "stu-2", "RC-0002", "Jose", "Reyes")
	for i := 0; i < 3; i++ {
		record(t, l, ledger.RecordInput{StudentID: "stu-1", Amount: "100"})
	}
	record(t, l, ledger.RecordInput{StudentID: "stu-2", Amount: "100"})
	ctx := context.Background()

	export, err := l.ExportPayments(ctx, ledger.PaymentQuery{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Len(t, export.Payments, 2)
	assert.Equal(t, 3, export.Total)
	assert.True(t, export.Truncated)

	// Within the limit nothing is cut
	export, err = l.ExportPayments(ctx, ledger.PaymentQuery{StudentID: "stu-2"})
	require.NoError(t, err)
	assert.Len(t, export.Payments, 1)
	assert.Equal(t, 1, export.Total)
	assert.False(t, export.Truncated)
}

// =============================================================================
// ANALYTICS
// =============================================================================

// analyticsFixture, with "now" pinned to 2026-03-15:
//
//	cpa-review enrollment (10000):
//	  1000   cash           completed           2026-03-10
//	  2000   card           completed           2026-01-05
//	   500   bank_transfer  pending             2026-03-14
//	  3000   mobile_wallet  partially_refunded  2025-12-20  (1000 refunded)
//	  0.10 x 3  cash        completed           2026-03-15
//	nursing-review enrollment (2000): no payments
func newAnalyticsFixture(t *testing.T) *ledger.Ledger {
	l, store := newTestLedger(t)
	seedStudent(t, store, "stu-1", "RC-0001", "Maria", "Santos")
	seedStudent(t, store, "stu-2", "RC-0002", "Jose", "Rizal")
	cpa := seedEnrollment(t, l, "stu-1", "10000")
	_, err := l.RegisterEnrollment(context.Background(), ledger.EnrollmentInput{
		StudentID: "stu-2", Program: "nursing-review", Amount: "2000",
	})
	require.NoError(t, err)

	pay := func(amount, method, status, date string) ledger.Payment {
		return record(t, l, ledger.RecordInput{
			StudentID: "stu-1", EnrollmentID: cpa.ID, Amount: amount, Method: method, Status: status, PaymentDate: day(date),
		}).Payment
	}
	pay("1000", "cash", "", "2026-03-10")
	pay("2000", "card", "", "2026-01-05")
	pay("500", "bank_transfer", "pending", "2026-03-14")
	refunded := pay("3000", "mobile_wallet", "", "2025-12-20")
	for i := 0; i < 3; i++ {
		pay("0.10", "cash", "", "2026-03-15")
	}

	_, err = l.RefundPayment(context.Background(), ledger.RefundInput{PaymentID: refunded.ID, Amount: "1000", Reason: "scholarship"})
	require.NoError(t, err)
	return l
}

func TestSummary_RevenueAndDistributions(t *testing.T) {
	l := newAnalyticsFixture(t)

	s, err := l.Summary(context.Background(), ledger.AnalyticsQuery{})
	require.NoError(t, err)

	// Revenue counts completed payments only
	assertMoney(t, "3000.30", s.Revenue.AllTime)
	assertMoney(t, "1000.30", s.Revenue.ThisMonth)
	assertMoney(t, "3000.30", s.Revenue.ThisYear)
	assert.Nil(t, s.Revenue.Range)

	assertMoney(t, "5000.30", s.NetCollected)
	assertMoney(t, "1000", s.TotalRefunded)
	assert.Equal(t, 7, s.PaymentCount)

	assert.Equal(t, 5, s.ByStatus[ledger.StatusCompleted].Count)
	assertMoney(t, "3000.30", s.ByStatus[ledger.StatusCompleted].Amount)
	assert.Equal(t, 1, s.ByStatus[ledger.StatusPending].Count)
	assert.Equal(t, 1, s.ByStatus[ledger.StatusPartiallyRefunded].Count)
	assert.Zero(t, s.ByStatus[ledger.StatusFailed].Count, "every status is present, even when empty")
	assert.Len(t, s.ByStatus, len(ledger.PaymentStatuses))

	assert.Equal(t, 4, s.ByMethod[ledger.MethodCash].Count)
	assertMoney(t, "1000.30", s.ByMethod[ledger.MethodCash].Amount)
	assert.Equal(t, 1, s.ByMethod[ledger.MethodCard].Count)
	assert.Zero(t, s.ByMethod[ledger.MethodOtherGateway].Count)

	assert.Equal(t, []string{"cpa-review"}, s.Programs())
	assertMoney(t, "6500.30", s.ByProgram["cpa-review"].Amount)

	// 10000 - 5000.30 + 2000 - 0
	assertMoney(t, "6999.70", s.Outstanding)
	assert.Equal(t, 2, s.EnrollmentCount)
}

func TestSummary_ProgramFilter(t *testing.T) {
	l := newAnalyticsFixture(t)

	s, err := l.Summary(context.Background(), ledger.AnalyticsQuery{Program: "nursing-review"})
	require.NoError(t, err)

	assert.Zero(t, s.PaymentCount)
	assertMoney(t, "0", s.Revenue.AllTime)
	assertMoney(t, "2000", s.Outstanding)
	assert.Equal(t, 1, s.EnrollmentCount)
}

func TestSummary_DailyTrendCoversLastThirtyDays(t *testing.T) {
	l := newAnalyticsFixture(t)

	s, err := l.Summary(context.Background(), ledger.AnalyticsQuery{Interval: ledger.IntervalDaily})
	require.NoError(t, err)

	require.Len(t, s.Trend, 30)
	assert.Equal(t, "2026-02-14", s.Trend[0].Period)
	assert.Equal(t, "2026-03-15", s.Trend[29].Period)

	byPeriod := map[string]ledger.TrendPoint{}
	for _, p := range s.Trend {
		byPeriod[p.Period] = p
	}
	assert.Equal(t, 1, byPeriod["2026-03-10"].Completed)
	assertMoney(t, "1000", byPeriod["2026-03-10"].CompletedAmount)
	assert.Equal(t, 1, byPeriod["2026-03-14"].Pending)
	assert.Equal(t, 3, byPeriod["2026-03-15"].Completed)
	assertMoney(t, "0.30", byPeriod["2026-03-15"].CompletedAmount)
	assert.Zero(t, byPeriod["2026-03-01"].Completed, "empty days are included")
}

func TestSummary_MonthlyTrendAndRange(t *testing.T) {
	l := newAnalyticsFixture(t)

	from, err := ledger.ParseDateBound("2026-01-01", false, time.UTC)
	require.NoError(t, err)
	to, err := ledger.ParseDateBound("2026-03-31", true, time.UTC)
	require.NoError(t, err)

	s, err := l.Summary(context.Background(), ledger.AnalyticsQuery{From: from, To: to, Interval: ledger.IntervalMonthly})
	require.NoError(t, err)

	require.NotNil(t, s.Revenue.Range)
	assertMoney(t, "3000.30", *s.Revenue.Range)

	require.Len(t, s.Trend, 3)
	assert.Equal(t, "2026-01", s.Trend[0].Period)
	assert.Equal(t, 1, s.Trend[0].Completed)
	assert.Equal(t, 0, s.Trend[1].Completed)
	assert.Equal(t, 4, s.Trend[2].Completed)
	assert.Equal(t, 1, s.Trend[2].Pending)
	assertMoney(t, "1000.30", s.Trend[2].CompletedAmount)
}

func TestSummary_RejectsBadWindows(t *testing.T) {
	l := newAnalyticsFixture(t)
	ctx := context.Background()

	_, err := l.Summary(ctx, ledger.AnalyticsQuery{From: day("2026-03-10"), To: day("2026-03-01")})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = l.Summary(ctx, ledger.AnalyticsQuery{From: day("2000-01-01"), Interval: ledger.IntervalDaily})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput, "too many trend buckets")

	_, err = ledger.ParseInterval("weekly")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}
