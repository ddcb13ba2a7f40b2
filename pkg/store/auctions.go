package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const decisionColumns = `id, loan_id, decision, note, decided_by, created_at`

func scanDecision(row scanner) (*models.LoanDecision, error) {
	var d models.LoanDecision
	if err := row.Scan(&d.ID, &d.LoanID, &d.Decision, &d.Note, &d.DecidedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// CreateDecision appends a decision. seq orders decisions recorded within
// the same timestamp.
func (t *sqlTx) CreateDecision(ctx context.Context, d *models.LoanDecision) error {
	var seq int
	if err := t.queryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM loan_decisions WHERE loan_id = ?`, d.LoanID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read decision sequence: %w", err)
	}
	_, err := t.exec(ctx,
		`INSERT INTO loan_decisions (`+decisionColumns+`, seq) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.LoanID, d.Decision, d.Note, d.DecidedBy, d.CreatedAt.UTC(), seq+1,
	)
	if err != nil {
		return fmt.Errorf("failed to create decision: %w", err)
	}
	return nil
}

func (t *sqlTx) LatestDecision(ctx context.Context, loanID uuid.UUID) (*models.LoanDecision, error) {
	d, err := scanDecision(t.queryRow(ctx,
		`SELECT `+decisionColumns+` FROM loan_decisions WHERE loan_id = ? ORDER BY seq DESC LIMIT 1`, loanID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (t *sqlTx) ListDecisions(ctx context.Context, loanID uuid.UUID) ([]*models.LoanDecision, error) {
	rows, err := t.query(ctx,
		`SELECT `+decisionColumns+` FROM loan_decisions WHERE loan_id = ? ORDER BY seq ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.LoanDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const auctionColumns = `id, loan_id, branch_id, status, due_date, days_used, interest_amount, total_due, remaining,
	early_interest_paid, listed_by, listed_at, closed_by, closed_at, close_note, created_at, updated_at`

func scanAuction(row scanner) (*models.AuctionListing, error) {
	var a models.AuctionListing
	var closedBy uuid.NullUUID
	var closedAt sql.NullTime
	err := row.Scan(&a.ID, &a.LoanID, &a.BranchID, &a.Status, &a.DueDate, &a.DaysUsed, &a.InterestAmount,
		&a.TotalDue, &a.Remaining, &a.EarlyInterestPaid, &a.ListedBy, &a.ListedAt, &closedBy, &closedAt,
		&a.CloseNote, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.DueDate = a.DueDate.UTC()
	a.ListedAt = a.ListedAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.ClosedBy = uuidPtr(closedBy)
	a.ClosedAt = timePtr(closedAt)
	return &a, nil
}

func (t *sqlTx) CreateAuction(ctx context.Context, a *models.AuctionListing) error {
	_, err := t.exec(ctx,
		`INSERT INTO auction_listings (`+auctionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LoanID, a.BranchID, a.Status, a.DueDate.UTC(), a.DaysUsed, a.InterestAmount, a.TotalDue, a.Remaining,
		a.EarlyInterestPaid, a.ListedBy, a.ListedAt.UTC(), nullUUID(a.ClosedBy), nullTime(a.ClosedAt), a.CloseNote,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create auction listing: %w", err)
	}
	return nil
}

// UpdateAuction rewrites a listing in place; used for re-listing a cancelled
// auction and for closing one.
func (t *sqlTx) UpdateAuction(ctx context.Context, a *models.AuctionListing) error {
	err := t.execOne(ctx,
		`UPDATE auction_listings SET status = ?, due_date = ?, days_used = ?, interest_amount = ?, total_due = ?,
		remaining = ?, early_interest_paid = ?, listed_by = ?, listed_at = ?, closed_by = ?, closed_at = ?,
		close_note = ?, updated_at = ? WHERE id = ?`,
		a.Status, a.DueDate.UTC(), a.DaysUsed, a.InterestAmount, a.TotalDue, a.Remaining, a.EarlyInterestPaid,
		a.ListedBy, a.ListedAt.UTC(), nullUUID(a.ClosedBy), nullTime(a.ClosedAt), a.CloseNote, a.UpdatedAt.UTC(), a.ID,
	)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to update auction listing: %w", err)
	}
	return err
}

func (t *sqlTx) GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionListing, error) {
	a, err := scanAuction(t.queryRow(ctx, `SELECT `+auctionColumns+` FROM auction_listings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (t *sqlTx) LockAuction(ctx context.Context, id uuid.UUID) (*models.AuctionListing, error) {
	a, err := scanAuction(t.queryRow(ctx,
		`SELECT `+auctionColumns+` FROM auction_listings WHERE id = ?`+t.d.lockSuffix, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (t *sqlTx) GetAuctionByLoan(ctx context.Context, loanID uuid.UUID) (*models.AuctionListing, error) {
	a, err := scanAuction(t.queryRow(ctx, `SELECT `+auctionColumns+` FROM auction_listings WHERE loan_id = ?`, loanID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (t *sqlTx) LockAuctionByLoan(ctx context.Context, loanID uuid.UUID) (*models.AuctionListing, error) {
	a, err := scanAuction(t.queryRow(ctx,
		`SELECT `+auctionColumns+` FROM auction_listings WHERE loan_id = ?`+t.d.lockSuffix, loanID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (t *sqlTx) ListAuctions(ctx context.Context, branchID uuid.UUID, status models.AuctionStatus) ([]*models.AuctionListing, error) {
	q := `SELECT ` + auctionColumns + ` FROM auction_listings WHERE branch_id = ?`
	args := []any{branchID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY listed_at DESC, id ASC`

	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var out []*models.AuctionListing
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const settlementColumns = `id, auction_id, loan_id, branch_id, gross_amount, fees, net_amount, settled_at, note,
	ledger_entry_id, settled_by, created_at`

func scanSettlement(row scanner) (*models.AuctionSettlement, error) {
	var s models.AuctionSettlement
	var ledgerEntryID uuid.NullUUID
	err := row.Scan(&s.ID, &s.AuctionID, &s.LoanID, &s.BranchID, &s.GrossAmount, &s.Fees, &s.NetAmount,
		&s.SettledAt, &s.Note, &ledgerEntryID, &s.SettledBy, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.SettledAt = s.SettledAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.LedgerEntryID = uuidPtr(ledgerEntryID)
	return &s, nil
}

func (t *sqlTx) CreateSettlement(ctx context.Context, s *models.AuctionSettlement) error {
	_, err := t.exec(ctx,
		`INSERT INTO auction_settlements (`+settlementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AuctionID, s.LoanID, s.BranchID, s.GrossAmount, s.Fees, s.NetAmount, s.SettledAt.UTC(), s.Note,
		nullUUID(s.LedgerEntryID), s.SettledBy, s.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	return nil
}

func (t *sqlTx) listSettlements(ctx context.Context, where string, arg any) ([]*models.AuctionSettlement, error) {
	rows, err := t.query(ctx,
		`SELECT `+settlementColumns+` FROM auction_settlements WHERE `+where+` = ? ORDER BY created_at ASC, id ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var out []*models.AuctionSettlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *sqlTx) ListSettlementsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*models.AuctionSettlement, error) {
	return t.listSettlements(ctx, "auction_id", auctionID)
}

func (t *sqlTx) ListSettlementsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.AuctionSettlement, error) {
	return t.listSettlements(ctx, "loan_id", loanID)
}
