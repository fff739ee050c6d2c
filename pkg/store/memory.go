package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/models"
)

// MemoryStore keeps loans for a single session in memory. Loans handed in or
// out are copied, so callers never share state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	loans        map[uuid.UUID]*models.Loan
	order        []uuid.UUID // Insertion order
	transactions []*models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans: make(map[uuid.UUID]*models.Loan),
	}
}

func (m *MemoryStore) CreateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.loans[loan.ID]; exists {
		return fmt.Errorf("failed to create loan: %w: loan %s already exists", apperr.ErrConflict, loan.ID)
	}
	m.loans[loan.ID] = loan.Clone()
	m.order = append(m.order, loan.ID)
	return nil
}

func (m *MemoryStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, apperr.ErrNotFound)
	}
	return loan.Clone(), nil
}

func (m *MemoryStore) UpdateLoan(loan *models.Loan, txs ...*models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.loans[loan.ID]
	if !ok {
		return fmt.Errorf("loan %s: %w", loan.ID, apperr.ErrNotFound)
	}
	if stored.Version != loan.Version {
		return fmt.Errorf("loan %s at version %d, update based on %d: %w",
			loan.ID, stored.Version, loan.Version, apperr.ErrConflict)
	}

	loan.Version++
	m.loans[loan.ID] = loan.Clone()
	for _, tx := range txs {
		c := *tx
		m.transactions = append(m.transactions, &c)
	}
	return nil
}

func (m *MemoryStore) DeleteLoan(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[id]; !ok {
		return fmt.Errorf("loan %s: %w", id, apperr.ErrNotFound)
	}
	delete(m.loans, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	kept := m.transactions[:0]
	for _, tx := range m.transactions {
		if tx.LoanID != id {
			kept = append(kept, tx)
		}
	}
	m.transactions = kept
	return nil
}

func (m *MemoryStore) GetAllLoans() ([]*models.Loan, error) {
	return m.list(func(*models.Loan) bool { return true }), nil
}

func (m *MemoryStore) GetAllActiveLoans() ([]*models.Loan, error) {
	return m.list(func(l *models.Loan) bool { return l.Status == models.LoanStatusApproved }), nil
}

func (m *MemoryStore) list(keep func(*models.Loan) bool) []*models.Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loans := make([]*models.Loan, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if l := m.loans[m.order[i]]; keep(l) {
			loans = append(loans, l.Clone())
		}
	}
	return loans
}

func (m *MemoryStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := []*models.Transaction{}
	for _, tx := range m.transactions {
		if tx.LoanID == loanID {
			c := *tx
			txs = append(txs, &c)
		}
	}
	return txs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
