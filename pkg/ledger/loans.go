package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/interest"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

type CreateLoanInput struct {
	CustomerID    uuid.UUID   `json:"customer_id"`
	CollateralIDs []uuid.UUID `json:"collateral_ids"`
	Principal     int64       `json:"principal"`
	AdminFee      int64       `json:"admin_fee"`
	StartDate     time.Time   `json:"start_date"` // zero means now
}

func (in CreateLoanInput) validate() error {
	if in.Principal <= 0 {
		return apperror.Validation("principal must be greater than 0")
	}
	if in.AdminFee < 0 || in.AdminFee >= in.Principal {
		return apperror.Validation("admin fee must be between 0 and the principal")
	}
	if in.CustomerID == uuid.Nil {
		return apperror.Validation("customer is required")
	}
	if len(in.CollateralIDs) == 0 {
		return apperror.Validation("at least one collateral item is required")
	}
	seen := make(map[uuid.UUID]bool, len(in.CollateralIDs))
	for _, id := range in.CollateralIDs {
		if seen[id] {
			return apperror.Validation("collateral %s listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// CreateLoan opens a loan against pledged collateral and books the net
// disbursement as cash leaving the branch.
func (l *Ledger) CreateLoan(ctx context.Context, actor models.Actor, in CreateLoanInput) (*models.Loan, error) {
	if err := in.validate(); err != nil {
		return nil, l.finish("create_loan", err)
	}

	now := l.now()
	start := in.StartDate
	if start.IsZero() {
		start = now
	}
	loan := &models.Loan{
		ID:         uuid.New(),
		BranchID:   actor.BranchID,
		CustomerID: in.CustomerID,
		CreatedBy:  actor.UserID,
		Principal:  in.Principal,
		AdminFee:   in.AdminFee,
		StartDate:  start,
		DueDate:    interest.DueDate(start),
		Status:     models.LoanStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBranch(ctx, actor.BranchID); err != nil {
			return missing(err, "branch")
		}
		customer, err := tx.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return missing(err, "customer")
		}
		if customer.BranchID != actor.BranchID {
			return apperror.Forbidden("customer %s belongs to another branch", customer.ID)
		}
		for _, id := range in.CollateralIDs {
			item, err := tx.GetCollateral(ctx, id)
			if err != nil {
				return missing(err, "collateral item")
			}
			if item.BranchID != actor.BranchID {
				return apperror.Forbidden("collateral %s belongs to another branch", id)
			}
			if item.LoanID != nil {
				return apperror.Conflict("collateral %s is already pledged", id)
			}
		}

		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		for _, id := range in.CollateralIDs {
			if err := tx.LinkCollateral(ctx, id, loan.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return apperror.Conflict("collateral %s is already pledged", id)
				}
				return fmt.Errorf("failed to link collateral %s: %w", id, err)
			}
		}

		disbursement := &models.CashLedgerEntry{
			ID:        uuid.New(),
			BranchID:  loan.BranchID,
			LoanID:    &loan.ID,
			Direction: models.DirectionOut,
			Source:    models.SourceDisbursement,
			Amount:    loan.Principal - loan.AdminFee,
			Status:    models.EntryStatusPosted,
			TxDate:    start,
			Note:      "loan disbursement",
			CreatedBy: actor.UserID,
			CreatedAt: now,
		}
		return tx.CreateLedgerEntry(ctx, disbursement)
	})
	if err != nil {
		return nil, l.finish("create_loan", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(models.SourceDisbursement), string(models.DirectionOut)).Inc()
	l.logger.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.Int64("principal", loan.Principal),
		zap.Int64("admin_fee", loan.AdminFee))
	return loan, nil
}

// Summary is the obligation of a loan and how much of it has been paid.
type Summary struct {
	Loan               *models.Loan `json:"loan"`
	AsOf               time.Time    `json:"as_of"`
	DaysUsed           int          `json:"days_used"`
	Rate               int          `json:"rate"`
	InterestAmount     int64        `json:"interest_amount"`
	TotalDue           int64        `json:"total_due"`
	InterestPaid       int64        `json:"interest_paid"`
	PrincipalPaid      int64        `json:"principal_paid"`
	TotalPaid          int64        `json:"total_paid"`
	RemainingInterest  int64        `json:"remaining_interest"`
	RemainingPrincipal int64        `json:"remaining_principal"`
	Remaining          int64        `json:"remaining"`
}

func summarize(loan *models.Loan, res interest.Result, payments []*models.Payment, asOf time.Time) *Summary {
	// A paid-off loan reports the terms it was settled under.
	if loan.Status == models.LoanStatusLunas && loan.FinalTotalDue != nil {
		res.DaysUsed = *loan.FinalDaysUsed
		res.Rate = *loan.FinalRate
		res.InterestAmount = *loan.FinalInterest
		res.TotalDue = *loan.FinalTotalDue
	}
	paid := sumPaid(payments)
	return &Summary{
		Loan:               loan,
		AsOf:               asOf,
		DaysUsed:           res.DaysUsed,
		Rate:               res.Rate,
		InterestAmount:     res.InterestAmount,
		TotalDue:           res.TotalDue,
		InterestPaid:       paid.Interest,
		PrincipalPaid:      paid.Principal,
		TotalPaid:          paid.Total(),
		RemainingInterest:  nonNegative(res.InterestAmount - paid.Interest),
		RemainingPrincipal: nonNegative(loan.Principal - paid.Principal),
		Remaining:          nonNegative(res.TotalDue - paid.Total()),
	}
}

// LoanSummary returns the loan with its obligation as of now, syncing a stale
// status first.
func (l *Ledger) LoanSummary(ctx context.Context, actor models.Actor, id uuid.UUID) (*Summary, error) {
	now := l.now()
	var summary *Summary
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := lockOwnedLoan(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		res, err := l.SyncStatus(ctx, tx, loan, now)
		if err != nil {
			return err
		}
		payments, err := tx.ListPaymentsForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		summary = summarize(loan, res, payments, now)
		return nil
	})
	if err != nil {
		return nil, l.finish("loan_summary", err)
	}
	return summary, nil
}

// ListLoans returns the caller's branch loans, optionally filtered by status.
// Stale statuses are synced under the loan's row lock before filtering.
func (l *Ledger) ListLoans(ctx context.Context, actor models.Actor, status models.LoanStatus) ([]*models.Loan, error) {
	now := l.now()
	loans := []*models.Loan{}
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		all, err := tx.ListLoans(ctx, actor.BranchID, "")
		if err != nil {
			return err
		}
		for _, loan := range all {
			res, err := l.obligation(loan, now)
			if err != nil {
				return err
			}
			if NextStatus(loan.Status, res) != loan.Status {
				if loan, err = tx.LockLoan(ctx, loan.ID); err != nil {
					return err
				}
				if _, err := l.SyncStatus(ctx, tx, loan, now); err != nil {
					return err
				}
			}
			if status == "" || loan.Status == status {
				loans = append(loans, loan)
			}
		}
		return nil
	})
	if err != nil {
		return nil, l.finish("list_loans", err)
	}
	return loans, nil
}

// DeleteLoan is an administrative override that removes a loan with every
// record hanging off it and releases its collateral.
func (l *Ledger) DeleteLoan(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return l.finish("delete_loan", apperror.Forbidden("only administrators can delete loans"))
	}
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		if _, err := lockOwnedLoan(ctx, tx, actor, id); err != nil {
			return err
		}
		return missing(tx.DeleteLoan(ctx, id), "loan")
	})
	if err != nil {
		return l.finish("delete_loan", err)
	}
	l.logger.Warn("loan deleted",
		zap.String("loan_id", id.String()),
		zap.String("deleted_by", actor.UserID.String()))
	return nil
}

// ListPayments returns a loan's payments in payment order, reversed ones
// included.
func (l *Ledger) ListPayments(ctx context.Context, actor models.Actor, loanID uuid.UUID) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		if _, err := getOwnedLoan(ctx, tx, actor, loanID); err != nil {
			return err
		}
		var err error
		payments, err = tx.ListPaymentsForLoan(ctx, loanID)
		return err
	})
	if err != nil {
		return nil, l.finish("list_payments", err)
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	return payments, nil
}
