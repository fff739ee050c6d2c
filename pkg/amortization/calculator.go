// Package amortization computes fixed-installment loan payments and the
// repayment schedules derived from them.
//
// Money is carried in shopspring/decimal and rounded to CurrencyScale
// minor-unit digits at each installment. Only the annuity factor
// (1+r)^n is evaluated in float64.
package amortization

import (
	"fmt"
	"math"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of minor-unit digits kept on every amount.
const CurrencyScale int32 = 2

var minorUnit = decimal.New(1, -CurrencyScale)

// Payment is the fixed periodic installment of a loan.
type Payment struct {
	Amount decimal.Decimal // Unrounded
	// StraightLine is set when the payment is principal/termMonths, either
	// because the rate is zero or because the annuity formula did not yield
	// a finite positive value. No interest is charged in that mode.
	StraightLine bool
}

// Quote is the preview shown to an applicant before a loan is submitted.
type Quote struct {
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalPayment   decimal.Decimal `json:"total_payment"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	StraightLine   bool            `json:"straight_line"`
}

func checkInputs(principal, monthlyRate decimal.Decimal, termMonths int) error {
	verr := apperr.NewValidationError()
	if !principal.IsPositive() {
		verr.Add("principal", "must be greater than zero")
	}
	if termMonths <= 0 {
		verr.Add("term_months", "must be a positive number of months")
	}
	if monthlyRate.IsNegative() {
		verr.Add("monthly_rate", "must not be negative")
	}
	return verr.OrNil()
}

// MonthlyPayment returns the fixed installment that fully repays principal
// over termMonths at monthlyRate:
//
//	payment = P * r * (1+r)^n / ((1+r)^n - 1)
//
// A zero rate, or a formula result that is not finite and positive, falls
// back to P / n.
func MonthlyPayment(principal, monthlyRate decimal.Decimal, termMonths int) (Payment, error) {
	if err := checkInputs(principal, monthlyRate, termMonths); err != nil {
		return Payment{}, err
	}

	straight := Payment{
		Amount:       principal.Div(decimal.NewFromInt(int64(termMonths))),
		StraightLine: true,
	}
	if monthlyRate.IsZero() {
		return straight, nil
	}

	r := monthlyRate.InexactFloat64()
	factor := math.Pow(1+r, float64(termMonths))
	p := principal.InexactFloat64() * r * factor / (factor - 1)
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return straight, nil
	}

	return Payment{Amount: decimal.NewFromFloat(p)}, nil
}

// TotalInterest returns payment*termMonths - principal rounded to minor
// units. A negative result means the payment was computed wrongly upstream.
func TotalInterest(payment decimal.Decimal, termMonths int, principal decimal.Decimal) (decimal.Decimal, error) {
	interest := payment.Mul(decimal.NewFromInt(int64(termMonths))).Sub(principal).Round(CurrencyScale)
	if interest.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: total interest %s is negative for payment %s over %d months",
			apperr.ErrCalculation, interest, payment, termMonths)
	}
	return interest, nil
}

// NewQuote computes the rounded payment preview for an application.
func NewQuote(principal, monthlyRate decimal.Decimal, termMonths int) (Quote, error) {
	p, err := MonthlyPayment(principal, monthlyRate, termMonths)
	if err != nil {
		return Quote{}, err
	}
	interest, err := TotalInterest(p.Amount, termMonths, principal)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		MonthlyPayment: p.Amount.Round(CurrencyScale),
		TotalPayment:   principal.Add(interest).Round(CurrencyScale),
		TotalInterest:  interest,
		StraightLine:   p.StraightLine,
	}, nil
}
