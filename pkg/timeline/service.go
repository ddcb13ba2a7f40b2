package timeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

type Service struct {
	storage store.Storage
	logger  *zap.Logger
}

func NewService(s store.Storage, logger *zap.Logger) *Service {
	return &Service{storage: s, logger: logger}
}

// load reads every record of a loan inside one transaction so the checks see
// a consistent view.
func load(ctx context.Context, tx store.Tx, loan *models.Loan) (Records, error) {
	r := Records{Loan: loan, SettlementEntries: make(map[uuid.UUID][]*models.CashLedgerEntry)}
	var err error
	if r.Payments, err = tx.ListPaymentsForLoan(ctx, loan.ID); err != nil {
		return r, err
	}
	if r.Decisions, err = tx.ListDecisions(ctx, loan.ID); err != nil {
		return r, err
	}
	if r.Contracts, err = tx.ListContractsForLoan(ctx, loan.ID); err != nil {
		return r, err
	}
	r.Auction, err = tx.GetAuctionByLoan(ctx, loan.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return r, err
	}
	if r.Settlements, err = tx.ListSettlementsForLoan(ctx, loan.ID); err != nil {
		return r, err
	}
	for _, s := range r.Settlements {
		entries, err := tx.ListLedgerEntries(ctx, store.LedgerFilter{SettlementID: &s.ID})
		if err != nil {
			return r, err
		}
		r.SettlementEntries[s.ID] = entries
	}
	return r, nil
}

// LoanTimeline returns the ordered history of a loan with any consistency
// warnings. Warnings are logged but never acted on.
func (s *Service) LoanTimeline(ctx context.Context, actor models.Actor, loanID uuid.UUID) (*Timeline, error) {
	var records Records
	err := s.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NotFound("loan")
		}
		if err != nil {
			return err
		}
		if loan.BranchID != actor.BranchID {
			return apperror.Forbidden("loan belongs to another branch")
		}
		records, err = load(ctx, tx, loan)
		return err
	})
	if err != nil {
		if apperror.Kind(err) == nil {
			s.logger.Error("failed to load timeline", zap.String("loan_id", loanID.String()), zap.Error(err))
		}
		return nil, err
	}

	t := Build(records)
	if len(t.Warnings) > 0 {
		s.logger.Warn("timeline has consistency warnings",
			zap.String("loan_id", loanID.String()),
			zap.Int("warnings", len(t.Warnings)))
	}
	return t, nil
}
