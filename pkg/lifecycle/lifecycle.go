// Package lifecycle is the loan state machine:
//
//	Pending  -> Approved | Rejected   (external decision)
//	Approved -> Paid Off              (last installment paid)
//
// Rejected and Paid Off are terminal. Operations never modify the loan they
// are given; they return an updated copy or an error.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/shopspring/decimal"
)

// Policy configures how installments may be paid.
type Policy struct {
	// EnforceOrder requires installments to be paid in chronological order.
	EnforceOrder bool
}

var externalTransitions = map[models.LoanStatus][]models.LoanStatus{
	models.LoanStatusPending: {models.LoanStatusApproved, models.LoanStatusRejected},
}

// CanTransition reports whether an external status update from -> to is
// allowed. Paid Off is reachable only through MarkInstallmentPaid.
func CanTransition(from, to models.LoanStatus) bool {
	for _, s := range externalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies an external status decision.
func Transition(loan *models.Loan, to models.LoanStatus, now time.Time) (*models.Loan, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if !CanTransition(loan.Status, to) {
		return nil, fmt.Errorf("%w: loan %s cannot move from %s to %s", apperr.ErrInvalidTransition, loan.ID, loan.Status, to)
	}
	updated := loan.Clone()
	updated.Status = to
	updated.UpdatedAt = now
	return updated, nil
}

// MarkInstallmentPaid marks installment index as Paid and deducts its
// principal from the remaining balance, clamped at zero. When every
// installment is Paid the loan becomes Paid Off. Paying an installment twice
// fails with ErrInvalidTransition and leaves the balance untouched.
func MarkInstallmentPaid(loan *models.Loan, index int, policy Policy, now time.Time) (*models.Loan, error) {
	if loan.Status != models.LoanStatusApproved {
		return nil, fmt.Errorf("%w: loan %s is %s, installments can only be paid on Approved loans",
			apperr.ErrInvalidTransition, loan.ID, loan.Status)
	}
	if index < 0 || index >= len(loan.RepaymentSchedule) {
		return nil, fmt.Errorf("%w: index %d, schedule has %d installments",
			apperr.ErrIndexOutOfRange, index, len(loan.RepaymentSchedule))
	}
	if loan.RepaymentSchedule[index].Status != models.InstallmentStatusUpcoming {
		return nil, fmt.Errorf("%w: installment %d of loan %s is already %s",
			apperr.ErrInvalidTransition, index, loan.ID, loan.RepaymentSchedule[index].Status)
	}
	if policy.EnforceOrder {
		if next := NextDue(loan); next != index {
			return nil, fmt.Errorf("%w: installment %d must be paid before installment %d",
				apperr.ErrInvalidTransition, next, index)
		}
	}

	updated := loan.Clone()
	inst := &updated.RepaymentSchedule[index]
	inst.Status = models.InstallmentStatusPaid
	paidAt := now
	inst.PaidAt = &paidAt

	updated.RemainingBalance = updated.RemainingBalance.Sub(inst.Principal)
	if updated.RemainingBalance.IsNegative() {
		updated.RemainingBalance = decimal.Zero
	}
	if AllPaid(updated) {
		updated.Status = models.LoanStatusPaidOff
		updated.RemainingBalance = decimal.Zero
	}
	updated.UpdatedAt = now
	return updated, nil
}

// AllPaid reports whether every installment of the loan is Paid.
func AllPaid(loan *models.Loan) bool {
	if len(loan.RepaymentSchedule) == 0 {
		return false
	}
	for _, inst := range loan.RepaymentSchedule {
		if inst.Status != models.InstallmentStatusPaid {
			return false
		}
	}
	return true
}

// NextDue returns the index of the earliest Upcoming installment, or -1.
func NextDue(loan *models.Loan) int {
	for i, inst := range loan.RepaymentSchedule {
		if inst.Status == models.InstallmentStatusUpcoming {
			return i
		}
	}
	return -1
}

// RemainingBalance recomputes amount minus the principal of every Paid
// installment, clamped at zero.
func RemainingBalance(loan *models.Loan) decimal.Decimal {
	balance := loan.Amount
	for _, inst := range loan.RepaymentSchedule {
		if inst.Status == models.InstallmentStatusPaid {
			balance = balance.Sub(inst.Principal)
		}
	}
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// Progress returns the principal repaid so far, amount minus remaining
// balance, and that amount as a percentage of the loan rounded to two
// decimals.
func Progress(loan *models.Loan) (paid, percent decimal.Decimal) {
	if !loan.Amount.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	paid = loan.Amount.Sub(loan.RemainingBalance)
	if paid.IsNegative() {
		paid = decimal.Zero
	}
	percent = paid.Div(loan.Amount).Mul(decimal.NewFromInt(100)).Round(2)
	return paid, percent
}
