package store

import (
	"github.com/google/uuid"
	"github.com/mcclellann/coopLoan/pkg/models"
)

// Storage defines the persistence operations for loans and their ledger
// transactions.
//
// UpdateLoan is a compare-and-swap on Loan.Version: it fails with
// apperr.ErrConflict when the stored version differs from loan.Version, and on
// success stores the loan (schedule included) with the version bumped, together
// with any transactions passed, as one atomic write. It is the only way
// transactions are recorded, so a transaction never exists without the loan
// change it belongs to.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan, txs ...*models.Transaction) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)       // Newest first
	GetAllActiveLoans() ([]*models.Loan, error) // Approved loans, newest first

	GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error)

	Close() error
}
