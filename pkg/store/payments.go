package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const paymentColumns = `id, loan_id, branch_id, amount, paid_at, interest_portion, principal_portion, note, recorded_by,
	ledger_entry_id, days_used, rate, interest_amount, total_due, reversed_at, reversed_by, reversal_reason, created_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var ledgerEntryID, reversedBy uuid.NullUUID
	var reversedAt sql.NullTime
	err := row.Scan(&p.ID, &p.LoanID, &p.BranchID, &p.Amount, &p.PaidAt, &p.InterestPortion, &p.PrincipalPortion,
		&p.Note, &p.RecordedBy, &ledgerEntryID, &p.DaysUsed, &p.Rate, &p.InterestAmount, &p.TotalDue,
		&reversedAt, &reversedBy, &p.ReversalReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.PaidAt = p.PaidAt.UTC()
	p.LedgerEntryID = uuidPtr(ledgerEntryID)
	p.ReversedAt = timePtr(reversedAt)
	p.ReversedBy = uuidPtr(reversedBy)
	return &p, nil
}

func (t *sqlTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := t.exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.LoanID, p.BranchID, p.Amount, p.PaidAt.UTC(), p.InterestPortion, p.PrincipalPortion, p.Note,
		p.RecordedBy, nullUUID(p.LedgerEntryID), p.DaysUsed, p.Rate, p.InterestAmount, p.TotalDue,
		nullTime(p.ReversedAt), nullUUID(p.ReversedBy), p.ReversalReason, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (t *sqlTx) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(t.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (t *sqlTx) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(t.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`+t.d.lockSuffix, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// MarkPaymentReversed sets the reversal marker. It only touches a payment
// that has not been reversed yet, so a second call reports ErrNotFound.
func (t *sqlTx) MarkPaymentReversed(ctx context.Context, id uuid.UUID, at time.Time, by uuid.UUID, reason string) error {
	return t.execOne(ctx,
		`UPDATE payments SET reversed_at = ?, reversed_by = ?, reversal_reason = ? WHERE id = ? AND reversed_at IS NULL`,
		at.UTC(), by, reason, id)
}

// ListPaymentsForLoan returns all payments, reversed ones included, oldest first.
func (t *sqlTx) ListPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := t.query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY paid_at ASC, created_at ASC, id ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

func (t *sqlTx) CountPaymentsForLoan(ctx context.Context, loanID uuid.UUID) (int, error) {
	var n int
	if err := t.queryRow(ctx, `SELECT COUNT(*) FROM payments WHERE loan_id = ?`, loanID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}
