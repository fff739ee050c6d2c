package ledger

import (
	"fmt"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/lifecycle"
	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// Policy holds the cooperative's lending rules. Values come from
// configuration; nothing here is user supplied.
type Policy struct {
	AnnualRatePercent   decimal.Decimal // 18 means 18% per annum
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal
	MinTermMonths       int
	MaxTermMonths       int
	EnforcePaymentOrder bool
}

// DefaultPolicy mirrors the cooperative's published loan product.
func DefaultPolicy() Policy {
	return Policy{
		AnnualRatePercent:   decimal.NewFromInt(18),
		MinAmount:           decimal.NewFromInt(500_000),
		MaxAmount:           decimal.NewFromInt(50_000_000),
		MinTermMonths:       3,
		MaxTermMonths:       36,
		EnforcePaymentOrder: true,
	}
}

// MonthlyRate converts the annual percentage into a monthly fraction,
// 18% per annum is 0.015.
func (p Policy) MonthlyRate() decimal.Decimal {
	return p.AnnualRatePercent.Div(hundred).Div(monthsInYear)
}

func (p Policy) lifecycle() lifecycle.Policy {
	return lifecycle.Policy{EnforceOrder: p.EnforcePaymentOrder}
}

// CheckTerms adds a field error to verr for an amount or term outside the
// configured bounds.
func (p Policy) CheckTerms(verr *apperr.ValidationError, amount decimal.Decimal, termMonths int) {
	switch {
	case amount.LessThan(p.MinAmount):
		verr.Add("amount", fmt.Sprintf("must be at least %s", p.MinAmount.StringFixed(0)))
	case p.MaxAmount.IsPositive() && amount.GreaterThan(p.MaxAmount):
		verr.Add("amount", fmt.Sprintf("must be at most %s", p.MaxAmount.StringFixed(0)))
	case !amount.Equal(amount.Round(2)):
		verr.Add("amount", "must not have more than two decimal places")
	}
	if termMonths < p.MinTermMonths || termMonths > p.MaxTermMonths {
		verr.Add("term_months", fmt.Sprintf("must be between %d and %d months", p.MinTermMonths, p.MaxTermMonths))
	}
}

// Validate checks the policy itself.
func (p Policy) Validate() error {
	verr := apperr.NewValidationError()
	if p.AnnualRatePercent.IsNegative() {
		verr.Add("annual_rate_percent", "must not be negative")
	}
	if !p.MinAmount.IsPositive() {
		verr.Add("min_amount", "must be greater than zero")
	}
	if p.MaxAmount.IsPositive() && p.MaxAmount.LessThan(p.MinAmount) {
		verr.Add("max_amount", "must not be below min_amount")
	}
	if p.MinTermMonths < 1 {
		verr.Add("min_term_months", "must be at least 1")
	}
	if p.MaxTermMonths < p.MinTermMonths {
		verr.Add("max_term_months", "must not be below min_term_months")
	}
	return verr.OrNil()
}
