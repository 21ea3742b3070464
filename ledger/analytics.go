/*
analytics.go - Analytics Aggregator

PURPOSE:
  Dashboard rollups over the payment set. Pure read: facts are loaded from
  the ViewStore and folded in memory with decimal arithmetic, so sums are
  exact regardless of how many payments contribute.

ROLLUPS:
  Revenue          completed payments: all time, this month, this year, range
  Collected        amount - refundAmount over collected statuses
  By status        count + amount per payment status
  By method        count + amount per payment method
  By program       count + amount per enrollment program
  Trend            completed vs pending per day or month
  Outstanding      sum of max(amount - totalPaid, 0) over enrollments

CALENDAR:
  "This month", "this year" and trend buckets use the ledger's location.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalMonthly Interval = "monthly"
)

func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day":
		return IntervalDaily, nil
	case "monthly", "month":
		return IntervalMonthly, nil
	}
	return "", fmt.Errorf("%w: interval must be daily or monthly", ErrInvalidInput)
}

// maxTrendBuckets bounds the trend series (a bit over ten years of months,
// or a year of days).
const maxTrendBuckets = 400

type AnalyticsQuery struct {
	From     *time.Time
	To       *time.Time
	Interval Interval
	Program  string
}

// Bucket is a count and summed amount.
type Bucket struct {
	Count  int
	Amount Money
}

type Revenue struct {
	AllTime   Money
	ThisMonth Money
	ThisYear  Money
	// Range is set only when the query had a from or to bound.
	Range *Money
}

type TrendPoint struct {
	Period          string
	Start           time.Time
	Completed       int
	Pending         int
	CompletedAmount Money
}

type Summary struct {
	Revenue         Revenue
	NetCollected    Money
	TotalRefunded   Money
	PaymentCount    int
	ByStatus        map[PaymentStatus]Bucket
	ByMethod        map[PaymentMethod]Bucket
	ByProgram       map[string]Bucket
	Interval        Interval
	Trend           []TrendPoint
	Outstanding     Money
	EnrollmentCount int
	GeneratedAt     time.Time
}

// Summary computes every rollup for the dashboard.
func (l *Ledger) Summary(ctx context.Context, q AnalyticsQuery) (Summary, error) {
	if q.Interval == "" {
		q.Interval = IntervalDaily
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return Summary{}, &FieldError{Field: "from", Message: "must not be after to", Err: ErrInvalidInput}
	}

	payments, err := l.views.PaymentFacts(ctx, q.Program)
	if err != nil {
		return Summary{}, persistence(err)
	}
	enrollments, err := l.views.EnrollmentFacts(ctx, q.Program)
	if err != nil {
		return Summary{}, persistence(err)
	}

	now := l.now()
	s := Summary{
		ByStatus:    make(map[PaymentStatus]Bucket, len(PaymentStatuses)),
		ByMethod:    make(map[PaymentMethod]Bucket, len(PaymentMethods)),
		ByProgram:   make(map[string]Bucket),
		Interval:    q.Interval,
		GeneratedAt: now,
	}
	for _, st := range PaymentStatuses {
		s.ByStatus[st] = Bucket{}
	}
	for _, m := range PaymentMethods {
		s.ByMethod[m] = Bucket{}
	}

	monthStart := StartOfMonth(now, l.loc)
	yearStart := StartOfYear(now, l.loc)
	var rangeTotal Money
	hasRange := q.From != nil || q.To != nil

	for _, f := range payments {
		s.PaymentCount++
		s.ByStatus[f.Status] = s.ByStatus[f.Status].add(f.Amount)
		s.ByMethod[f.Method] = s.ByMethod[f.Method].add(f.Amount)
		s.ByProgram[f.Program] = s.ByProgram[f.Program].add(f.Amount)

		if f.Status.Collected() {
			s.NetCollected = s.NetCollected.Add(f.Amount.Sub(f.RefundAmount))
		}
		s.TotalRefunded = s.TotalRefunded.Add(f.RefundAmount)

		if f.Status != StatusCompleted {
			continue
		}
		s.Revenue.AllTime = s.Revenue.AllTime.Add(f.Amount)
		if !f.PaymentDate.Before(monthStart) {
			s.Revenue.ThisMonth = s.Revenue.ThisMonth.Add(f.Amount)
		}
		if !f.PaymentDate.Before(yearStart) {
			s.Revenue.ThisYear = s.Revenue.ThisYear.Add(f.Amount)
		}
		if hasRange && inRange(f.PaymentDate, q.From, q.To) {
			rangeTotal = rangeTotal.Add(f.Amount)
		}
	}
	if hasRange {
		s.Revenue.Range = &rangeTotal
	}

	for _, e := range enrollments {
		s.EnrollmentCount++
		s.Outstanding = s.Outstanding.Add(e.Amount.Sub(e.TotalPaid).FloorZero())
	}

	trend, err := l.trend(payments, q, now)
	if err != nil {
		return Summary{}, err
	}
	s.Trend = trend
	return s, nil
}

func (b Bucket) add(amount Money) Bucket {
	return Bucket{Count: b.Count + 1, Amount: b.Amount.Add(amount)}
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

// trend buckets completed and pending payments between the query bounds.
// Without bounds it covers the last 30 days (daily) or 12 months (monthly).
func (l *Ledger) trend(payments []PaymentFact, q AnalyticsQuery, now time.Time) ([]TrendPoint, error) {
	var start, end time.Time
	step := func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	floor := func(t time.Time) time.Time { return StartOfDay(t, l.loc) }
	label := func(t time.Time) string { return t.Format(DateLayout) }
	if q.Interval == IntervalMonthly {
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
		floor = func(t time.Time) time.Time { return StartOfMonth(t, l.loc) }
		label = func(t time.Time) string { return t.Format("2006-01") }
	}

	end = floor(now)
	if q.To != nil {
		end = floor(*q.To)
	}
	switch {
	case q.From != nil:
		start = floor(*q.From)
	case q.Interval == IntervalMonthly:
		start = end.AddDate(0, -11, 0)
	default:
		start = end.AddDate(0, 0, -29)
	}

	var points []TrendPoint
	index := make(map[string]int)
	for t := start; !t.After(end); t = step(t) {
		if len(points) == maxTrendBuckets {
			return nil, &FieldError{Field: "from", Message: fmt.Sprintf("range exceeds %d %s buckets", maxTrendBuckets, q.Interval), Err: ErrInvalidInput}
		}
		index[label(t)] = len(points)
		points = append(points, TrendPoint{Period: label(t), Start: t.UTC()})
	}

	for _, f := range payments {
		if f.Status != StatusCompleted && f.Status != StatusPending {
			continue
		}
		i, ok := index[label(floor(f.PaymentDate))]
		if !ok {
			continue
		}
		if f.Status == StatusCompleted {
			points[i].Completed++
			points[i].CompletedAmount = points[i].CompletedAmount.Add(f.Amount)
		} else {
			points[i].Pending++
		}
	}
	return points, nil
}

// Programs returns the program tags present in the summary, sorted.
func (s Summary) Programs() []string {
	out := make([]string, 0, len(s.ByProgram))
	for p := range s.ByProgram {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
