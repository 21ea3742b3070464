package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CHARGE DERIVATION
// =============================================================================

func TestDeriveCharge_DiscountThenTax(t *testing.T) {
	// GIVEN: base 1000, discount 10%, tax 5%
	// WHEN: Deriving the charge
	// THEN: 1000 - 100 + 45 = 945

	c, err := DeriveCharge(MustMoney("1000"), decimal.NewFromInt(10), decimal.NewFromInt(5))
	require.NoError(t, err)

	assert.Equal(t, "100.00", c.Discount.String())
	assert.Equal(t, "45.00", c.Tax.String())
	assert.Equal(t, "945.00", c.Final.String())
}

func TestDeriveCharge_RoundsEachComponentToCents(t *testing.T) {
	// 333.33 * 12.5% = 41.66625 -> 41.67
	// (333.33 - 41.67) * 7.25% = 21.145... -> 21.15
	c, err := DeriveCharge(MustMoney("333.33"), decimal.RequireFromString("12.5"), decimal.RequireFromString("7.25"))
	require.NoError(t, err)

	assert.Equal(t, "41.67", c.Discount.String())
	assert.Equal(t, "21.15", c.Tax.String())
	assert.Equal(t, "312.81", c.Final.String())
	assert.True(t, c.Base.Sub(c.Discount).Add(c.Tax).Equal(c.Final), "components must add up to final")
}

func TestDeriveCharge_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		discount string
		tax      string
		want     error
	}{
		{"zero base", "0", "0", "0", ErrInvalidAmount},
		{"negative base", "-10", "0", "0", ErrInvalidAmount},
		{"discount over 100", "100", "101", "0", ErrInvalidAdjustment},
		{"negative discount", "100", "-1", "0", ErrInvalidAdjustment},
		{"negative tax", "100", "0", "-5", ErrInvalidAdjustment},
		{"full discount leaves nothing to pay", "100", "100", "0", ErrInvalidAmount},
		{"absurd tax", "1000", "0", "1e15", ErrInvalidAdjustment},
		{"tax pushes final over the maximum", "999999999999", "0", "1", ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveCharge(MustMoney(tt.base), decimal.RequireFromString(tt.discount), decimal.RequireFromString(tt.tax))
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestDeriveCharge_BaseOverMaximum(t *testing.T) {
	base := Money{Value: MaxAmount.Value.Add(decimal.RequireFromString("0.01"))}
	_, err := DeriveCharge(base, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParsePercent(t *testing.T) {
	d, err := parsePercent("discount", "")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parsePercent("tax", " 7.5 ")
	require.NoError(t, err)
	assert.Equal(t, "7.5", d.String())

	_, err = parsePercent("tax", "seven")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "tax", fe.Field)
	assert.ErrorIs(t, err, ErrInvalidAdjustment)
}

// =============================================================================
// MONEY
// =============================================================================

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney(" 1250.505 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.51", m.String())
	c, err := m.Cents()
	require.NoError(t, err)
	assert.Equal(t, int64(125051), c)

	_, err = ParseMoney("")
	assert.Error(t, err)
	_, err = ParseMoney("12abc")
	assert.Error(t, err)
}

func TestParseMoney_RejectsAmountsOverMaximum(t *testing.T) {
	m, err := ParseMoney("1000000000000")
	require.NoError(t, err)
	assert.True(t, m.Equal(MaxAmount))

	for _, s := range []string{"1000000000000.01", "184467440737095526.16", "-100000000000000000"} {
		_, err := ParseMoney(s)
		assert.Error(t, err, s)
	}
}

func TestMoney_CentsOutOfRange(t *testing.T) {
	// GIVEN: A value whose cents do not fit in an int64
	m := Money{Value: decimal.RequireFromString("184467440737095526.16")}

	// THEN: The conversion fails instead of wrapping around
	_, err := m.Cents()
	assert.ErrorIs(t, err, ErrInvalidAmount)

	c, err := MaxAmount.Cents()
	require.NoError(t, err)
	assert.Equal(t, int64(100000000000000), c)
}

func TestMoney_RepeatedAdditionIsExact(t *testing.T) {
	// Binary floating point drifts here: 0.1 added 10000 times.
	total := Money{}
	for i := 0; i < 10000; i++ {
		total = total.Add(MustMoney("0.10"))
	}
	assert.Equal(t, "1000.00", total.String())
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{MustMoney("945")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 945.00}`, string(b))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 12.5, "b": "7.25"}`), &in))
	assert.Equal(t, "12.50", in.A.String())
	assert.Equal(t, "7.25", in.B.String())
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

func TestParsePaymentStatus(t *testing.T) {
	st, err := ParsePaymentStatus("Partially-Refunded")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyRefunded, st)

	_, err = ParsePaymentStatus("settled")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestParsePaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodCash, m, "empty method defaults to cash")

	m, err = ParsePaymentMethod("Bank Transfer")
	require.NoError(t, err)
	assert.Equal(t, MethodBankTransfer, m)

	_, err = ParsePaymentMethod("cheque")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestDeriveEnrollmentStatus(t *testing.T) {
	amount := MustMoney("5000")
	assert.Equal(t, EnrollmentUnpaid, DeriveEnrollmentStatus(amount, Money{}))
	assert.Equal(t, EnrollmentPartiallyPaid, DeriveEnrollmentStatus(amount, MustMoney("4999.99")))
	assert.Equal(t, EnrollmentPaid, DeriveEnrollmentStatus(amount, amount))
	assert.Equal(t, EnrollmentPaid, DeriveEnrollmentStatus(amount, MustMoney("6000")))
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestEnrollmentRecompute_CountsCollectedPaymentsOnly(t *testing.T) {
	e := Enrollment{ID: "enr-1", Amount: MustMoney("10000")}
	payments := []Payment{
		{EnrollmentID: "enr-1", Amount: MustMoney("3000"), Status: StatusCompleted},
		{EnrollmentID: "enr-1", Amount: MustMoney("2000"), RefundAmount: MustMoney("500"), Status: StatusPartiallyRefunded},
		{EnrollmentID: "enr-1", Amount: MustMoney("1000"), RefundAmount: MustMoney("1000"), Status: StatusRefunded},
		{EnrollmentID: "enr-1", Amount: MustMoney("4000"), Status: StatusPending},
		{EnrollmentID: "enr-1", Amount: MustMoney("4000"), Status: StatusFailed},
		{EnrollmentID: "enr-2", Amount: MustMoney("9999"), Status: StatusCompleted},
	}

	got := e.Recompute(payments)

	assert.Equal(t, "4500.00", got.TotalPaid.String())
	assert.Equal(t, "5500.00", got.RemainingBalance().String())
	assert.Equal(t, EnrollmentPartiallyPaid, got.PaymentStatus)
}

func TestEnrollment_OverpaidBalance(t *testing.T) {
	e := Enrollment{Amount: MustMoney("100"), TotalPaid: MustMoney("150")}
	assert.Equal(t, "-50.00", e.RemainingBalance().String())
	assert.Equal(t, "0.00", e.DisplayBalance().String())
}

func TestPaymentCheckInvariants(t *testing.T) {
	ok := []Payment{
		{Amount: MustMoney("500"), Status: StatusCompleted},
		{Amount: MustMoney("500"), RefundAmount: MustMoney("100"), Status: StatusPartiallyRefunded},
		{Amount: MustMoney("500"), RefundAmount: MustMoney("500"), Status: StatusRefunded},
	}
	for _, p := range ok {
		assert.NoError(t, p.CheckInvariants())
	}

	bad := []Payment{
		{Amount: MustMoney("500"), RefundAmount: MustMoney("600"), Status: StatusRefunded},
		{Amount: MustMoney("500"), Status: StatusRefunded},
		{Amount: MustMoney("500"), RefundAmount: MustMoney("500"), Status: StatusPartiallyRefunded},
		{Amount: MustMoney("500"), RefundAmount: MustMoney("100"), Status: StatusCompleted},
	}
	for _, p := range bad {
		assert.Error(t, p.CheckInvariants())
	}
}

// =============================================================================
// ERRORS AND DATES
// =============================================================================

func TestErrorClassification(t *testing.T) {
	exceeds := &RefundExceedsError{PaymentID: "p", Requested: MustMoney("600"), Refundable: MustMoney("500")}
	assert.ErrorIs(t, exceeds, ErrRefundExceedsBalance)
	assert.True(t, IsConflict(exceeds))

	state := &StateError{PaymentID: "p", Status: StatusPending, Err: ErrNotRefundable}
	assert.True(t, IsConflict(state))

	assert.True(t, IsNotFound(ErrPaymentNotFound))
	assert.True(t, IsRetryable(ErrConcurrentModification))

	wrapped := persistence(errors.New("disk full"))
	assert.ErrorIs(t, wrapped, ErrPersistenceFailure)
	assert.Equal(t, exceeds, persistence(exceeds), "domain errors pass through unchanged")
}

func TestParseDateBound(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)

	from, err := ParseDateBound("2026-03-01", false, manila)
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2026, 2, 28, 16, 0, 0, 0, time.UTC)), "got %s", from)

	to, err := ParseDateBound("2026-03-01", true, manila)
	require.NoError(t, err)
	assert.True(t, to.Equal(time.Date(2026, 3, 1, 15, 59, 59, 999999999, time.UTC)), "got %s", to)

	none, err := ParseDateBound("", true, manila)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseDateBound("03/01/2026", false, manila)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
