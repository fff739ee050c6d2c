package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopLoan/pkg/amortization"
	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/cache"
	"github.com/mcclellann/coopLoan/pkg/lifecycle"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/mcclellann/coopLoan/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger handles the business logic for loans and transactions.
type Ledger struct {
	storage store.Storage // Use the Storage interface
	policy  Policy
	quotes  cache.Cache
	log     *zap.Logger
	now     func() time.Time

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithQuoteCache stores computed quotes in c.
func WithQuoteCache(c cache.Cache) Option {
	return func(l *Ledger) { l.quotes = c }
}

// WithClock replaces time.Now, used for timestamps on loans and transactions.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, policy Policy, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		policy:  policy,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// lock serialises read-modify-write operations on one loan.
func (l *Ledger) lock(id uuid.UUID) func() {
	m, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateLoan checks terms against the policy, builds the repayment schedule
// and stores the loan as Pending. A zero start date means today. The rate
// always comes from the policy; terms.MonthlyRate is overwritten.
func (l *Ledger) CreateLoan(terms models.LoanTerms) (*models.Loan, error) {
	verr := apperr.NewValidationError()
	l.policy.CheckTerms(verr, terms.Amount, terms.TermMonths)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	terms.MonthlyRate = l.policy.MonthlyRate()

	now := l.now().UTC()
	start := terms.StartDate
	if start.IsZero() {
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	schedule, err := amortization.GenerateSchedule(terms.Amount, terms.MonthlyRate, terms.TermMonths, start)
	if err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:                uuid.New(),
		MemberID:          terms.MemberID,
		Purpose:           terms.Purpose,
		Amount:            terms.Amount,
		InterestRate:      terms.MonthlyRate,
		TermMonths:        terms.TermMonths,
		StartDate:         start,
		Status:            models.LoanStatusPending,
		RemainingBalance:  terms.Amount,
		MonthlyPayment:    amortization.SchedulePayment(schedule),
		RepaymentSchedule: schedule,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.log.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("member_id", loan.MemberID),
		zap.String("amount", loan.Amount.StringFixed(amortization.CurrencyScale)),
		zap.Int("term_months", loan.TermMonths),
		zap.String("monthly_payment", loan.MonthlyPayment.StringFixed(amortization.CurrencyScale)),
	)
	return loan, nil
}

// ListLoans returns every loan, newest first.
func (l *Ledger) ListLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// UpdateStatus applies an approval decision. Approving records the
// disbursement of the principal.
func (l *Ledger) UpdateStatus(id uuid.UUID, status models.LoanStatus) (*models.Loan, error) {
	defer l.lock(id)()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	updated, err := lifecycle.Transition(loan, status, now)
	if err != nil {
		return nil, err
	}

	var txs []*models.Transaction
	if updated.Status == models.LoanStatusApproved {
		txs = append(txs, &models.Transaction{
			ID:        uuid.New(),
			LoanID:    updated.ID,
			Amount:    updated.Amount,
			Type:      models.TransactionTypeDisbursement,
			Timestamp: now,
		})
	}
	if err := l.storage.UpdateLoan(updated, txs...); err != nil {
		return nil, fmt.Errorf("failed to update loan status: %w", err)
	}

	l.log.Info("loan status updated",
		zap.String("loan_id", id.String()),
		zap.String("from", string(loan.Status)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}

// ApplyPayment marks installment index as paid and records the payment of
// its total. The loan and the transaction are stored together.
func (l *Ledger) ApplyPayment(id uuid.UUID, index int) (*models.Loan, error) {
	defer l.lock(id)()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	updated, err := lifecycle.MarkInstallmentPaid(loan, index, l.policy.lifecycle(), now)
	if err != nil {
		return nil, err
	}

	paidIndex := index
	payment := &models.Transaction{
		ID:               uuid.New(),
		LoanID:           updated.ID,
		Amount:           updated.RepaymentSchedule[index].Total,
		Type:             models.TransactionTypePayment,
		InstallmentIndex: &paidIndex,
		Timestamp:        now,
	}
	if err := l.storage.UpdateLoan(updated, payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	fields := []zap.Field{
		zap.String("loan_id", id.String()),
		zap.Int("installment", index),
		zap.String("amount", payment.Amount.StringFixed(amortization.CurrencyScale)),
		zap.String("remaining_balance", updated.RemainingBalance.StringFixed(amortization.CurrencyScale)),
	}
	l.log.Info("installment paid", fields...)
	if updated.Status == models.LoanStatusPaidOff {
		l.log.Info("loan paid off", zap.String("loan_id", id.String()))
	}
	return updated, nil
}

// DeleteLoan removes a loan and its transactions.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	defer l.lock(id)()

	if err := l.storage.DeleteLoan(id); err != nil {
		return err
	}
	l.locks.Delete(id)
	l.log.Info("loan deleted", zap.String("loan_id", id.String()))
	return nil
}

// TransactionsForLoan lists the ledger entries of a loan.
func (l *Ledger) TransactionsForLoan(id uuid.UUID) ([]*models.Transaction, error) {
	if _, err := l.storage.GetLoan(id); err != nil {
		return nil, err
	}
	return l.storage.GetTransactionsForLoan(id)
}

// Summary totals the Approved loans.
func (l *Ledger) Summary() (models.Summary, error) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return models.Summary{}, fmt.Errorf("failed to get active loans: %w", err)
	}
	s := models.Summary{TotalAmount: decimal.Zero, TotalRemaining: decimal.Zero}
	for _, loan := range loans {
		s.ActiveLoans++
		s.TotalAmount = s.TotalAmount.Add(loan.Amount)
		s.TotalRemaining = s.TotalRemaining.Add(loan.RemainingBalance)
	}
	return s, nil
}

// Quote previews the payment for amount over termMonths at the policy rate.
func (l *Ledger) Quote(amount decimal.Decimal, termMonths int) (amortization.Quote, error) {
	verr := apperr.NewValidationError()
	l.policy.CheckTerms(verr, amount, termMonths)
	if err := verr.OrNil(); err != nil {
		return amortization.Quote{}, err
	}

	rate := l.policy.MonthlyRate()
	key := fmt.Sprintf("quote:%s:%d:%s", amount.String(), termMonths, rate.String())
	if l.quotes != nil {
		if raw, ok := l.quotes.Get(key); ok {
			var q amortization.Quote
			if err := json.Unmarshal([]byte(raw), &q); err == nil {
				return q, nil
			}
			l.log.Warn("discarding unreadable cached quote", zap.String("key", key))
		}
	}

	q, err := amortization.NewQuote(amount, rate, termMonths)
	if err != nil {
		return amortization.Quote{}, err
	}

	if l.quotes != nil {
		raw, err := json.Marshal(q)
		if err == nil {
			err = l.quotes.Set(key, string(raw))
		}
		if err != nil {
			l.log.Warn("failed to cache quote", zap.String("key", key), zap.Error(err))
		}
	}
	return q, nil
}

// IsClientError reports whether err was caused by the request rather than
// by the ledger or its storage.
func IsClientError(err error) bool {
	return errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrInvalidTransition) ||
		errors.Is(err, apperr.ErrIndexOutOfRange) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrConflict)
}
