package amortization

import (
	"math"
	"time"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/shopspring/decimal"
)

// AddMonths advances t by the given number of calendar months keeping the
// day of month. When the target month is shorter the day is clamped to its
// last day, so Jan 31 + 1 month is Feb 28 (29 in leap years). The clamp is
// applied against t itself, not against a previously clamped date, so
// Jan 31 + 2 months is Mar 31.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// GenerateSchedule builds the installment list of a loan starting one month
// after startDate. All installments start Upcoming.
//
// The payment is rounded to minor units once; each period charges
// round(balance*r) interest and the rest of the payment reduces the balance.
// The last installment takes whatever balance is left, so the principal
// portions always sum to principal exactly. In straight-line mode every
// portion is within one minor unit of principal/termMonths.
//
// Rounding the payment compounds over long terms at high rates and can pay
// the balance off before the last period. When the level schedule would
// leave a zero installment or a shrinking principal portion, the principal
// portions are taken from the exact annuity split instead and interest is
// charged on the balance they leave, so totals drift by a few minor units.
func GenerateSchedule(principal, monthlyRate decimal.Decimal, termMonths int, startDate time.Time) ([]models.Installment, error) {
	if !principal.Equal(principal.Round(CurrencyScale)) {
		return nil, apperr.Invalid("principal", "must not have more than two decimal places")
	}
	pmt, err := MonthlyPayment(principal, monthlyRate, termMonths)
	if err != nil {
		return nil, err
	}
	if principal.LessThan(minorUnit.Mul(decimal.NewFromInt(int64(termMonths)))) {
		return nil, apperr.Invalid("principal", "must be at least one minor unit per installment")
	}

	if pmt.StraightLine {
		return straightLineSchedule(principal, termMonths, startDate), nil
	}

	schedule := levelSchedule(principal, monthlyRate, pmt.Amount, termMonths, startDate)
	if !steady(schedule) {
		schedule = annuitySplitSchedule(principal, monthlyRate, termMonths, startDate)
	}
	return schedule, nil
}

func levelSchedule(principal, monthlyRate, payment decimal.Decimal, termMonths int, startDate time.Time) []models.Installment {
	payment = payment.Round(CurrencyScale)
	if payment.LessThan(minorUnit) {
		payment = minorUnit
	}

	schedule := make([]models.Installment, 0, termMonths)
	balance := principal
	for k := 1; k <= termMonths; k++ {
		interest := balance.Mul(monthlyRate).Round(CurrencyScale)
		part := payment.Sub(interest)
		if part.IsNegative() {
			part = decimal.Zero
		}
		if k == termMonths || part.GreaterThan(balance) {
			part = balance
		}
		balance = balance.Sub(part)
		schedule = append(schedule, installment(startDate, k, part, interest))
	}
	return schedule
}

// steady reports whether every installment is non-zero and principal
// portions never decrease.
func steady(schedule []models.Installment) bool {
	for i, inst := range schedule {
		if !inst.Total.IsPositive() {
			return false
		}
		if i > 0 && inst.Principal.LessThan(schedule[i-1].Principal) {
			return false
		}
	}
	return true
}

// annuitySplitSchedule truncates each exact annuity principal portion
// P*r*(1+r)^(k-1)/((1+r)^n-1) to minor units and hands the truncated units
// back to the last installments. Portions stay non-decreasing and the
// balance stays within termMonths minor units of the exact one.
func annuitySplitSchedule(principal, monthlyRate decimal.Decimal, termMonths int, startDate time.Time) []models.Installment {
	r := monthlyRate.InexactFloat64()
	first := principal.InexactFloat64() * r / (math.Pow(1+r, float64(termMonths)) - 1)

	parts := make([]decimal.Decimal, termMonths)
	paid := decimal.Zero
	for k := range parts {
		parts[k] = decimal.NewFromFloat(first * math.Pow(1+r, float64(k))).Truncate(CurrencyScale)
		paid = paid.Add(parts[k])
	}

	units := principal.Sub(paid).Div(minorUnit).IntPart()
	each, rest := units/int64(termMonths), int(units%int64(termMonths))
	schedule := make([]models.Installment, 0, termMonths)
	balance := principal
	for k := 1; k <= termMonths; k++ {
		part := parts[k-1].Add(minorUnit.Mul(decimal.NewFromInt(each)))
		if k > termMonths-rest {
			part = part.Add(minorUnit)
		}
		interest := balance.Mul(monthlyRate).Round(CurrencyScale)
		balance = balance.Sub(part)
		schedule = append(schedule, installment(startDate, k, part, interest))
	}
	return schedule
}

func installment(startDate time.Time, k int, principal, interest decimal.Decimal) models.Installment {
	return models.Installment{
		DueDate:   AddMonths(startDate, k),
		Principal: principal,
		Interest:  interest,
		Total:     principal.Add(interest),
		Status:    models.InstallmentStatusUpcoming,
	}
}

func straightLineSchedule(principal decimal.Decimal, termMonths int, startDate time.Time) []models.Installment {
	n := decimal.NewFromInt(int64(termMonths))
	base := principal.Div(n).Truncate(CurrencyScale)
	// The minor units left over go to the last installments, one each, so
	// portions never decrease and none is more than a minor unit off P/n.
	extra := int(principal.Sub(base.Mul(n)).Div(minorUnit).IntPart())

	schedule := make([]models.Installment, 0, termMonths)
	for k := 1; k <= termMonths; k++ {
		part := base
		if k > termMonths-extra {
			part = part.Add(minorUnit)
		}
		schedule = append(schedule, installment(startDate, k, part, decimal.Zero))
	}
	return schedule
}

// SchedulePayment returns the regular installment total of a schedule, the
// amount shown as the loan's monthly payment.
func SchedulePayment(schedule []models.Installment) decimal.Decimal {
	if len(schedule) == 0 {
		return decimal.Zero
	}
	return schedule[0].Total
}
