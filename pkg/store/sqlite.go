package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal amounts are stored as TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		monthly_payment TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		loan_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at DATETIME,
		PRIMARY KEY (loan_id, idx),
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		installment_index INTEGER,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, member_id, purpose, amount, interest_rate, term_months, start_date, status, remaining_balance, monthly_payment, version, created_at, updated_at`

// CreateLoan inserts a new loan and its schedule within a transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberID, loan.Purpose, loan.Amount, loan.InterestRate, loan.TermMonths, loan.StartDate,
		string(loan.Status), loan.RemainingBalance, loan.MonthlyPayment, loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	if err := insertInstallments(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

func insertInstallments(tx *sql.Tx, loan *models.Loan) error {
	for i, inst := range loan.RepaymentSchedule {
		_, err := tx.Exec(
			`INSERT INTO installments (loan_id, idx, due_date, principal, interest, total, status, paid_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			loan.ID.String(), i, inst.DueDate, inst.Principal, inst.Interest, inst.Total, string(inst.Status), inst.PaidAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store installment %d: %w", i, err)
		}
	}
	return nil
}

// GetLoan retrieves a loan and its schedule by ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if err := s.loadSchedule(loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// UpdateLoan writes the loan, its schedule and txs in one database
// transaction, guarded by the loan version.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan, txs ...*models.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE loans SET member_id = ?, purpose = ?, amount = ?, interest_rate = ?, term_months = ?, start_date = ?, status = ?,
		remaining_balance = ?, monthly_payment = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		loan.MemberID, loan.Purpose, loan.Amount, loan.InterestRate, loan.TermMonths, loan.StartDate, string(loan.Status),
		loan.RemainingBalance, loan.MonthlyPayment, loan.UpdatedAt, loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM loans WHERE id = ?`, loan.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check loan: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("loan %s: %w", loan.ID, apperr.ErrNotFound)
		}
		return fmt.Errorf("loan %s changed since version %d: %w", loan.ID, loan.Version, apperr.ErrConflict)
	}

	if _, err := tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, loan.ID.String()); err != nil {
		return fmt.Errorf("failed to replace schedule: %w", err)
	}
	if err := insertInstallments(tx, loan); err != nil {
		return err
	}
	for _, t := range txs {
		if err := insertTransaction(tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loan update: %w", err)
	}
	loan.Version++
	return nil
}

// DeleteLoan removes a loan, its schedule and its transactions within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM transactions WHERE loan_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated transactions: %w", err)
	}
	_, err = tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", id, apperr.ErrNotFound)
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans, newest first.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	return s.queryLoans(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at DESC, rowid DESC`)
}

// GetAllActiveLoans retrieves all Approved loans, newest first.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at DESC, rowid DESC`,
		string(models.LoanStatusApproved))
}

func (s *SQLiteStore) queryLoans(query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}

	loans := []*models.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, loan := range loans {
		if err := s.loadSchedule(loan); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, status string
	err := row.Scan(&idStr, &loan.MemberID, &loan.Purpose, &loan.Amount, &loan.InterestRate, &loan.TermMonths, &loan.StartDate,
		&status, &loan.RemainingBalance, &loan.MonthlyPayment, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	loan.ID = id
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

func (s *SQLiteStore) loadSchedule(loan *models.Loan) error {
	rows, err := s.db.Query(
		`SELECT due_date, principal, interest, total, status, paid_at FROM installments WHERE loan_id = ? ORDER BY idx ASC`,
		loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get schedule for loan %s: %w", loan.ID, err)
	}
	defer rows.Close()

	loan.RepaymentSchedule = []models.Installment{}
	for rows.Next() {
		var inst models.Installment
		var status string
		var paidAt sql.NullTime
		if err := rows.Scan(&inst.DueDate, &inst.Principal, &inst.Interest, &inst.Total, &status, &paidAt); err != nil {
			return fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.Status = models.InstallmentStatus(status)
		if paidAt.Valid {
			t := paidAt.Time
			inst.PaidAt = &t
		}
		loan.RepaymentSchedule = append(loan.RepaymentSchedule, inst)
	}
	return rows.Err()
}

func insertTransaction(tx *sql.Tx, t *models.Transaction) error {
	var index sql.NullInt64
	if t.InstallmentIndex != nil {
		index = sql.NullInt64{Int64: int64(*t.InstallmentIndex), Valid: true}
	}
	_, err := tx.Exec(
		`INSERT INTO transactions (id, loan_id, amount, type, installment_index, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.LoanID.String(), t.Amount, string(t.Type), index, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLiteStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, amount, type, installment_index, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC, rowid ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, loanIDStr, txType string
		var index sql.NullInt64
		var timestamp time.Time
		if err := rows.Scan(&txIDStr, &loanIDStr, &transaction.Amount, &txType, &index, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.LoanID = uuid.MustParse(loanIDStr)
		transaction.Type = models.TransactionType(txType)
		transaction.Timestamp = timestamp
		if index.Valid {
			i := int(index.Int64)
			transaction.InstallmentIndex = &i
		}
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
