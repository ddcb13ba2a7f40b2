package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

// Branches, customers and collateral are owned by other services; these
// methods cover what the ledger reads plus inserts used for seeding.

func (t *sqlTx) CreateBranch(ctx context.Context, b *models.Branch) error {
	_, err := t.exec(ctx,
		`INSERT INTO branches (id, code, name, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.Code, b.Name, b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}
	return nil
}

func (t *sqlTx) GetBranch(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	var b models.Branch
	err := t.queryRow(ctx, `SELECT id, code, name, created_at FROM branches WHERE id = ?`, id).
		Scan(&b.ID, &b.Code, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (t *sqlTx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := t.exec(ctx,
		`INSERT INTO customers (id, branch_id, nik, name, address, phone, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BranchID, c.NIK, c.Name, c.Address, c.Phone, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (t *sqlTx) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var c models.Customer
	err := t.queryRow(ctx,
		`SELECT id, branch_id, nik, name, address, phone, created_at FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.BranchID, &c.NIK, &c.Name, &c.Address, &c.Phone, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

const collateralColumns = `id, branch_id, loan_id, name, description, estimated_value, created_at`

func scanCollateral(row scanner) (*models.CollateralItem, error) {
	var item models.CollateralItem
	var loanID uuid.NullUUID
	if err := row.Scan(&item.ID, &item.BranchID, &loanID, &item.Name, &item.Description, &item.EstimatedValue, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.LoanID = uuidPtr(loanID)
	return &item, nil
}

func (t *sqlTx) CreateCollateral(ctx context.Context, item *models.CollateralItem) error {
	_, err := t.exec(ctx,
		`INSERT INTO collateral_items (`+collateralColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.BranchID, nullUUID(item.LoanID), item.Name, item.Description, item.EstimatedValue, item.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create collateral item: %w", err)
	}
	return nil
}

func (t *sqlTx) GetCollateral(ctx context.Context, id uuid.UUID) (*models.CollateralItem, error) {
	item, err := scanCollateral(t.queryRow(ctx, `SELECT `+collateralColumns+` FROM collateral_items WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

// LinkCollateral pledges an unpledged item to a loan. An item already linked
// to a loan is left alone and ErrNotFound is returned.
func (t *sqlTx) LinkCollateral(ctx context.Context, itemID, loanID uuid.UUID) error {
	return t.execOne(ctx, `UPDATE collateral_items SET loan_id = ? WHERE id = ? AND loan_id IS NULL`, loanID, itemID)
}

func (t *sqlTx) ListCollateralForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.CollateralItem, error) {
	rows, err := t.query(ctx,
		`SELECT `+collateralColumns+` FROM collateral_items WHERE loan_id = ? ORDER BY created_at ASC, id ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collateral for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var items []*models.CollateralItem
	for rows.Next() {
		item, err := scanCollateral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collateral row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *sqlTx) NextSequence(ctx context.Context, scope string) (int64, error) {
	var v int64
	err := t.queryRow(ctx,
		`INSERT INTO sequences (scope, value) VALUES (?, 1)
		ON CONFLICT (scope) DO UPDATE SET value = sequences.value + 1
		RETURNING value`, scope).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", scope, err)
	}
	return v, nil
}
