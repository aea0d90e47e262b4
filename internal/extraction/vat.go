package extraction

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

var hundred = decimal.NewFromInt(100)

// VATCalculator infers a VAT rate from a gross total and its VAT amount.
type VATCalculator struct {
	cfg Config
}

// NewVATCalculator returns a calculator using cfg's rate window.
func NewVATCalculator(cfg Config) *VATCalculator {
	return &VATCalculator{cfg: cfg}
}

// Infer returns vat / (amount - vat) * 100 rounded to one decimal, or
// NeedsManualReview when an input is missing, amount <= vat, vat <= 0, or the
// result falls outside the configured window. Mixed-rate receipts land here
// and must not get a blended rate.
func (c *VATCalculator) Infer(amount, vat expense.Optional[decimal.Decimal]) expense.VATRate {
	a, ok := amount.Get()
	if !ok {
		return expense.NeedsManualReview
	}
	v, ok := vat.Get()
	if !ok || !v.IsPositive() || !a.GreaterThan(v) {
		return expense.NeedsManualReview
	}
	rate := v.Div(a.Sub(v)).Mul(hundred)
	if !c.cfg.InVATWindow(rate) {
		return expense.NeedsManualReview
	}
	return expense.Rate(rate.Round(1))
}
