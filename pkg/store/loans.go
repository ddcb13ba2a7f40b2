package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const loanColumns = `id, branch_id, customer_id, created_by, principal, admin_fee, start_date, due_date, status,
	paid_off_at, final_days_used, final_rate, final_interest, final_total_due,
	contract_finalized_at, created_at, updated_at`

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var paidOffAt, contractFinalizedAt sql.NullTime
	var finalDays, finalRate, finalInterest, finalTotal sql.NullInt64
	err := row.Scan(&loan.ID, &loan.BranchID, &loan.CustomerID, &loan.CreatedBy, &loan.Principal, &loan.AdminFee,
		&loan.StartDate, &loan.DueDate, &loan.Status,
		&paidOffAt, &finalDays, &finalRate, &finalInterest, &finalTotal,
		&contractFinalizedAt, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.StartDate = loan.StartDate.UTC()
	loan.DueDate = loan.DueDate.UTC()
	loan.PaidOffAt = timePtr(paidOffAt)
	loan.FinalDaysUsed = intPtr(finalDays)
	loan.FinalRate = intPtr(finalRate)
	loan.FinalInterest = int64Ptr(finalInterest)
	loan.FinalTotalDue = int64Ptr(finalTotal)
	loan.ContractFinalizedAt = timePtr(contractFinalizedAt)
	return &loan, nil
}

// CreateLoan inserts a new loan into the database.
func (t *sqlTx) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := t.exec(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.BranchID, loan.CustomerID, loan.CreatedBy, loan.Principal, loan.AdminFee,
		loan.StartDate.UTC(), loan.DueDate.UTC(), loan.Status,
		nullTime(loan.PaidOffAt), nullInt(loan.FinalDaysUsed), nullInt(loan.FinalRate),
		nullInt64(loan.FinalInterest), nullInt64(loan.FinalTotalDue),
		nullTime(loan.ContractFinalizedAt), loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID without locking it.
func (t *sqlTx) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(t.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return loan, nil
}

// LockLoan retrieves a loan and holds an exclusive lock on its row until the
// transaction ends.
func (t *sqlTx) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(t.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`+t.d.lockSuffix, id))
	if err != nil {
		return nil, notFound(err)
	}
	return loan, nil
}

// UpdateLoan writes the mutable fields of a loan.
func (t *sqlTx) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	err := t.execOne(ctx,
		`UPDATE loans SET status = ?, paid_off_at = ?, final_days_used = ?, final_rate = ?, final_interest = ?,
		final_total_due = ?, contract_finalized_at = ?, updated_at = ? WHERE id = ?`,
		loan.Status, nullTime(loan.PaidOffAt), nullInt(loan.FinalDaysUsed), nullInt(loan.FinalRate),
		nullInt64(loan.FinalInterest), nullInt64(loan.FinalTotalDue), nullTime(loan.ContractFinalizedAt),
		loan.UpdatedAt.UTC(), loan.ID,
	)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return err
}

// SetLoanStatus moves a loan from one status to another and touches nothing
// else. ErrNotFound means the stored status is no longer from.
func (t *sqlTx) SetLoanStatus(ctx context.Context, id uuid.UUID, from, to models.LoanStatus, at time.Time) error {
	return t.execOne(ctx,
		`UPDATE loans SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at.UTC(), id, from)
}

// DeleteLoan removes a loan and everything that hangs off it. Collateral is
// unlinked, not deleted.
func (t *sqlTx) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	cascade := []struct{ what, query string }{
		{"unlink collateral", `UPDATE collateral_items SET loan_id = NULL WHERE loan_id = ?`},
		{"delete settlements", `DELETE FROM auction_settlements WHERE loan_id = ?`},
		{"delete auctions", `DELETE FROM auction_listings WHERE loan_id = ?`},
		{"delete decisions", `DELETE FROM loan_decisions WHERE loan_id = ?`},
		{"delete contracts", `DELETE FROM loan_contracts WHERE loan_id = ?`},
		{"delete ledger entries", `DELETE FROM cash_ledger_entries WHERE loan_id = ?`},
		{"delete payments", `DELETE FROM payments WHERE loan_id = ?`},
	}
	for _, step := range cascade {
		if _, err := t.exec(ctx, step.query, id); err != nil {
			return fmt.Errorf("failed to %s: %w", step.what, err)
		}
	}

	if err := t.execOne(ctx, `DELETE FROM loans WHERE id = ?`, id); err != nil {
		if err == ErrNotFound {
			return err
		}
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	return nil
}

// ListLoans returns a branch's loans, optionally filtered by status.
func (t *sqlTx) ListLoans(ctx context.Context, branchID uuid.UUID, status models.LoanStatus) ([]*models.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans WHERE branch_id = ?`
	args := []any{branchID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id ASC`

	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}
