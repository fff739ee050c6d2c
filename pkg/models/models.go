package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusPending  LoanStatus = "Pending"
	LoanStatusApproved LoanStatus = "Approved"
	LoanStatusRejected LoanStatus = "Rejected"
	LoanStatusPaidOff  LoanStatus = "Paid Off"
)

// Valid reports whether s is one of the known loan statuses.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusApproved, LoanStatusRejected, LoanStatusPaidOff:
		return true
	}
	return false
}

type InstallmentStatus string

const (
	InstallmentStatusUpcoming InstallmentStatus = "Upcoming"
	InstallmentStatusPaid     InstallmentStatus = "Paid"
)

// LoanTerms are the immutable inputs of a loan application.
type LoanTerms struct {
	MemberID    string          `json:"member_id"` // Opaque, not validated here
	Amount      decimal.Decimal `json:"amount"`
	MonthlyRate decimal.Decimal `json:"monthly_rate"` // Set from the lending policy
	TermMonths  int             `json:"term_months"`
	StartDate   time.Time       `json:"start_date"`
	Purpose     string          `json:"purpose,omitempty"` // Metadata only
}

type Installment struct {
	DueDate   time.Time         `json:"due_date"`
	Principal decimal.Decimal   `json:"principal"`
	Interest  decimal.Decimal   `json:"interest"`
	Total     decimal.Decimal   `json:"total"`
	Status    InstallmentStatus `json:"status"`
	PaidAt    *time.Time        `json:"paid_at,omitempty"`
}

type Loan struct {
	ID                uuid.UUID       `json:"id"`
	MemberID          string          `json:"member_id"`
	Purpose           string          `json:"purpose,omitempty"`
	Amount            decimal.Decimal `json:"amount"`       // Original principal
	InterestRate      decimal.Decimal `json:"interest_rate"` // Monthly rate, 0.015 == 1.5%
	TermMonths        int             `json:"term_months"`
	StartDate         time.Time       `json:"start_date"`
	Status            LoanStatus      `json:"status"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	MonthlyPayment    decimal.Decimal `json:"monthly_payment"`
	RepaymentSchedule []Installment   `json:"repayment_schedule"`
	Version           int64           `json:"version"` // Bumped on every stored update
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can change a loan without touching
// the stored record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	if l.RepaymentSchedule != nil {
		c.RepaymentSchedule = make([]Installment, len(l.RepaymentSchedule))
		copy(c.RepaymentSchedule, l.RepaymentSchedule)
		for i := range c.RepaymentSchedule {
			if paid := l.RepaymentSchedule[i].PaidAt; paid != nil {
				t := *paid
				c.RepaymentSchedule[i].PaidAt = &t
			}
		}
	}
	return &c
}

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypePayment      TransactionType = "payment"
)

type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	Amount           decimal.Decimal `json:"amount"`
	Type             TransactionType `json:"type"`
	InstallmentIndex *int            `json:"installment_index,omitempty"` // Set for payments
	Timestamp        time.Time       `json:"timestamp"`
}

// Summary aggregates the Approved loans of a portfolio.
type Summary struct {
	ActiveLoans    int             `json:"active_loans"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
}
