package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

const contractColumns = `id, loan_id, branch_id, code, status, template_version, snapshot, snapshot_hash,
	finalized_by, finalized_at, voided_by, voided_at, void_reason, created_at`

func scanContract(row scanner) (*models.LoanContract, error) {
	var c models.LoanContract
	var snapshot string
	var voidedBy uuid.NullUUID
	var voidedAt sql.NullTime
	err := row.Scan(&c.ID, &c.LoanID, &c.BranchID, &c.Code, &c.Status, &c.TemplateVersion, &snapshot,
		&c.SnapshotHash, &c.FinalizedBy, &c.FinalizedAt, &voidedBy, &voidedAt, &c.VoidReason, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Snapshot = []byte(snapshot)
	c.FinalizedAt = c.FinalizedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.VoidedBy = uuidPtr(voidedBy)
	c.VoidedAt = timePtr(voidedAt)
	return &c, nil
}

func (t *sqlTx) CreateContract(ctx context.Context, c *models.LoanContract) error {
	_, err := t.exec(ctx,
		`INSERT INTO loan_contracts (`+contractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LoanID, c.BranchID, c.Code, c.Status, c.TemplateVersion, string(c.Snapshot), c.SnapshotHash,
		c.FinalizedBy, c.FinalizedAt.UTC(), nullUUID(c.VoidedBy), nullTime(c.VoidedAt), c.VoidReason, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

// UpdateContract writes the void fields; the snapshot is never rewritten.
func (t *sqlTx) UpdateContract(ctx context.Context, c *models.LoanContract) error {
	err := t.execOne(ctx,
		`UPDATE loan_contracts SET status = ?, voided_by = ?, voided_at = ?, void_reason = ? WHERE id = ?`,
		c.Status, nullUUID(c.VoidedBy), nullTime(c.VoidedAt), c.VoidReason, c.ID,
	)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return err
}

func (t *sqlTx) GetContract(ctx context.Context, id uuid.UUID) (*models.LoanContract, error) {
	c, err := scanContract(t.queryRow(ctx, `SELECT `+contractColumns+` FROM loan_contracts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (t *sqlTx) LockContract(ctx context.Context, id uuid.UUID) (*models.LoanContract, error) {
	c, err := scanContract(t.queryRow(ctx,
		`SELECT `+contractColumns+` FROM loan_contracts WHERE id = ?`+t.d.lockSuffix, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (t *sqlTx) FinalContractForLoan(ctx context.Context, loanID uuid.UUID) (*models.LoanContract, error) {
	c, err := scanContract(t.queryRow(ctx,
		`SELECT `+contractColumns+` FROM loan_contracts WHERE loan_id = ? AND status = ?`, loanID, models.ContractFinal))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (t *sqlTx) ListContractsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanContract, error) {
	rows, err := t.query(ctx,
		`SELECT `+contractColumns+` FROM loan_contracts WHERE loan_id = ? ORDER BY created_at ASC, id ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var out []*models.LoanContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
