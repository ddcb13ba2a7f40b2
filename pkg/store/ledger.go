package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const ledgerColumns = `id, branch_id, loan_id, direction, source, amount, status, tx_date, note,
	payment_id, settlement_id, auction_id, reversal_of, reversed_by, created_by, created_at`

func scanLedgerEntry(row scanner) (*models.CashLedgerEntry, error) {
	var e models.CashLedgerEntry
	var loanID, paymentID, settlementID, auctionID, reversalOf, reversedBy uuid.NullUUID
	err := row.Scan(&e.ID, &e.BranchID, &loanID, &e.Direction, &e.Source, &e.Amount, &e.Status, &e.TxDate, &e.Note,
		&paymentID, &settlementID, &auctionID, &reversalOf, &reversedBy, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.TxDate = e.TxDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.LoanID = uuidPtr(loanID)
	e.PaymentID = uuidPtr(paymentID)
	e.SettlementID = uuidPtr(settlementID)
	e.AuctionID = uuidPtr(auctionID)
	e.ReversalOf = uuidPtr(reversalOf)
	e.ReversedBy = uuidPtr(reversedBy)
	return &e, nil
}

func (t *sqlTx) CreateLedgerEntry(ctx context.Context, e *models.CashLedgerEntry) error {
	_, err := t.exec(ctx,
		`INSERT INTO cash_ledger_entries (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BranchID, nullUUID(e.LoanID), e.Direction, e.Source, e.Amount, e.Status, e.TxDate.UTC(), e.Note,
		nullUUID(e.PaymentID), nullUUID(e.SettlementID), nullUUID(e.AuctionID),
		nullUUID(e.ReversalOf), nullUUID(e.ReversedBy), e.CreatedBy, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (t *sqlTx) GetLedgerEntry(ctx context.Context, id uuid.UUID) (*models.CashLedgerEntry, error) {
	e, err := scanLedgerEntry(t.queryRow(ctx, `SELECT `+ledgerColumns+` FROM cash_ledger_entries WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (t *sqlTx) LockLedgerEntry(ctx context.Context, id uuid.UUID) (*models.CashLedgerEntry, error) {
	e, err := scanLedgerEntry(t.queryRow(ctx,
		`SELECT `+ledgerColumns+` FROM cash_ledger_entries WHERE id = ?`+t.d.lockSuffix, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// MarkLedgerEntryReversed flips a POSTED entry to REVERSED. Entries already
// reversed are left alone and ErrNotFound is returned.
func (t *sqlTx) MarkLedgerEntryReversed(ctx context.Context, id, reversedBy uuid.UUID) error {
	return t.execOne(ctx,
		`UPDATE cash_ledger_entries SET status = ?, reversed_by = ? WHERE id = ? AND status = ?`,
		models.EntryStatusReversed, reversedBy, id, models.EntryStatusPosted)
}

// ListLedgerEntries returns entries ordered by transaction date then posting time.
func (t *sqlTx) ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]*models.CashLedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM cash_ledger_entries WHERE 1 = 1`
	var args []any
	if f.BranchID != uuid.Nil {
		q += ` AND branch_id = ?`
		args = append(args, f.BranchID)
	}
	if f.LoanID != nil {
		q += ` AND loan_id = ?`
		args = append(args, *f.LoanID)
	}
	if f.SettlementID != nil {
		q += ` AND settlement_id = ?`
		args = append(args, *f.SettlementID)
	}
	if f.Source != "" {
		q += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.From != nil {
		q += ` AND tx_date >= ?`
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		q += ` AND tx_date < ?`
		args = append(args, f.To.UTC())
	}
	q += ` ORDER BY tx_date ASC, created_at ASC, id ASC`

	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CashLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}
