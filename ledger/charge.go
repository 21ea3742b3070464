package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHARGE - Final amount derived from base, discount and tax
// =============================================================================

// Charge records how a payment's final amount was derived.
//
//	discount = base * discountPct / 100
//	tax      = (base - discount) * taxPct / 100
//	final    = base - discount + tax
//
// Each component is rounded to cents so the parts always add up to Final.
type Charge struct {
	Base            Money
	DiscountPercent decimal.Decimal
	Discount        Money
	TaxPercent      decimal.Decimal
	Tax             Money
	Final           Money
}

// DeriveCharge computes the charge for a base amount. Percentages must be
// within [0, 100] for discounts and >= 0 for tax, and no component may
// exceed MaxAmount.
func DeriveCharge(base Money, discountPct, taxPct decimal.Decimal) (Charge, error) {
	if !base.IsPositive() {
		return Charge{}, &FieldError{Field: "amount", Message: "must be greater than zero", Err: ErrInvalidAmount}
	}
	if base.GreaterThan(MaxAmount) {
		return Charge{}, &FieldError{Field: "amount", Message: "must not exceed " + MaxAmount.String(), Err: ErrInvalidAmount}
	}
	if discountPct.IsNegative() || discountPct.GreaterThan(hundred) {
		return Charge{}, &FieldError{Field: "discount", Message: "must be between 0 and 100", Err: ErrInvalidAdjustment}
	}
	if taxPct.IsNegative() {
		return Charge{}, &FieldError{Field: "tax", Message: "must not be negative", Err: ErrInvalidAdjustment}
	}

	discount := base.Percent(discountPct)
	taxable := base.Sub(discount)
	tax := taxable.Percent(taxPct)
	final := taxable.Add(tax)
	if !final.IsPositive() {
		return Charge{}, &FieldError{Field: "amount", Message: "final amount after discount must be greater than zero", Err: ErrInvalidAmount}
	}
	if tax.GreaterThan(MaxAmount) {
		return Charge{}, &FieldError{Field: "tax", Message: "tax must not exceed " + MaxAmount.String(), Err: ErrInvalidAdjustment}
	}
	if final.GreaterThan(MaxAmount) {
		return Charge{}, &FieldError{Field: "amount", Message: "final amount must not exceed " + MaxAmount.String(), Err: ErrInvalidAmount}
	}

	return Charge{
		Base:            base,
		DiscountPercent: discountPct,
		Discount:        discount,
		TaxPercent:      taxPct,
		Tax:             tax,
		Final:           final,
	}, nil
}

// parsePercent parses an optional percentage; empty means zero.
func parsePercent(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &FieldError{Field: field, Message: fmt.Sprintf("not a number: %q", s), Err: ErrInvalidAdjustment}
	}
	return d, nil
}
