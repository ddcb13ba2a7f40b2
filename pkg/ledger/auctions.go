package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/interest"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

// earlyInterestPaid reports whether interest of at least the early threshold
// was paid within the early tier. It only flags the auction snapshot.
func (l *Ledger) earlyInterestPaid(loan *models.Loan, payments []*models.Payment) bool {
	var early int64
	for _, p := range payments {
		if p.Reversed() {
			continue
		}
		if interest.DaysUsed(loan.StartDate.In(l.loc), p.PaidAt.In(l.loc)) <= interest.EarlyTierMaxDays {
			early += p.InterestPortion
		}
	}
	return early >= interest.EarlyInterestThreshold(loan.Principal)
}

// CreateAuction lists an overdue loan whose latest decision is AUCTION. The
// obligation is frozen on the listing and never recomputed. A cancelled
// listing is relisted in place.
func (l *Ledger) CreateAuction(ctx context.Context, actor models.Actor, loanID uuid.UUID) (*models.AuctionListing, error) {
	now := l.now()
	var listing *models.AuctionListing
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := lockOwnedLoan(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		res, err := l.SyncStatus(ctx, tx, loan, now)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusOverdue {
			return apperror.Conflict("only overdue loans can be auctioned (status %s)", loan.Status)
		}
		latest, err := tx.LatestDecision(ctx, loanID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if latest == nil || latest.Decision != models.DecisionAuction {
			return apperror.Conflict("latest decision on the loan must be AUCTION")
		}

		existing, err := tx.LockAuctionByLoan(ctx, loanID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status != models.AuctionCancelled {
			return apperror.Conflict("loan already has a %s auction", existing.Status)
		}

		payments, err := tx.ListPaymentsForLoan(ctx, loanID)
		if err != nil {
			return err
		}
		listing = &models.AuctionListing{
			ID:                uuid.New(),
			LoanID:            loan.ID,
			BranchID:          loan.BranchID,
			Status:            models.AuctionListed,
			DueDate:           loan.DueDate,
			DaysUsed:          res.DaysUsed,
			InterestAmount:    res.InterestAmount,
			TotalDue:          res.TotalDue,
			Remaining:         nonNegative(res.TotalDue - sumPaid(payments).Total()),
			EarlyInterestPaid: l.earlyInterestPaid(loan, payments),
			ListedBy:          actor.UserID,
			ListedAt:          now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if existing == nil {
			return tx.CreateAuction(ctx, listing)
		}
		listing.ID = existing.ID
		listing.CreatedAt = existing.CreatedAt
		return tx.UpdateAuction(ctx, listing)
	})
	if err != nil {
		return nil, l.finish("create_auction", err)
	}

	metrics.Auctions.WithLabelValues(string(models.AuctionListed)).Inc()
	l.logger.Info("auction listed",
		zap.String("loan_id", loanID.String()),
		zap.String("auction_id", listing.ID.String()),
		zap.Int64("remaining", listing.Remaining))
	l.publish(ctx, events.Event{
		Type: events.AuctionListed, LoanID: loanID, BranchID: listing.BranchID, RefID: listing.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"total_due": listing.TotalDue, "remaining": listing.Remaining},
	})
	return listing, nil
}

// CloseAuction ends a LISTED auction as SOLD or CANCELLED. Selling closes
// the loan in the same transaction.
func (l *Ledger) CloseAuction(ctx context.Context, actor models.Actor, auctionID uuid.UUID, status models.AuctionStatus, note string) (*models.AuctionListing, error) {
	if status != models.AuctionSold && status != models.AuctionCancelled {
		return nil, l.finish("close_auction", apperror.Validation("status must be SOLD or CANCELLED"))
	}
	note = strings.TrimSpace(note)
	if note != "" && utf8.RuneCountInString(note) < minNoteLength {
		return nil, l.finish("close_auction", apperror.Validation("note must be at least %d characters", minNoteLength))
	}
	now := l.now()

	var listing *models.AuctionListing
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return missing(err, "auction")
		}
		// Loan before auction, the same order CreateAuction locks in.
		loan, err := tx.LockLoan(ctx, a.LoanID)
		if err != nil {
			return missing(err, "loan")
		}
		if listing, err = tx.LockAuction(ctx, auctionID); err != nil {
			return missing(err, "auction")
		}
		if listing.BranchID != actor.BranchID {
			return apperror.Forbidden("auction belongs to another branch")
		}
		if listing.Status != models.AuctionListed {
			return apperror.Conflict("auction is %s, not LISTED", listing.Status)
		}
		if status == models.AuctionSold && loan.Status == models.LoanStatusLunas {
			return apperror.Conflict("loan was paid off after listing; cancel the auction instead")
		}

		listing.Status = status
		listing.ClosedBy = &actor.UserID
		listing.ClosedAt = &now
		listing.CloseNote = note
		listing.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, listing); err != nil {
			return err
		}
		if status == models.AuctionSold {
			loan.Status = models.LoanStatusClosed
			loan.UpdatedAt = now
			return tx.UpdateLoan(ctx, loan)
		}
		return nil
	})
	if err != nil {
		return nil, l.finish("close_auction", err)
	}

	metrics.Auctions.WithLabelValues(string(status)).Inc()
	l.logger.Info("auction closed",
		zap.String("loan_id", listing.LoanID.String()),
		zap.String("auction_id", auctionID.String()),
		zap.String("status", string(status)))
	l.publish(ctx, events.Event{
		Type: events.AuctionClosed, LoanID: listing.LoanID, BranchID: listing.BranchID, RefID: auctionID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"status": status},
	})
	return listing, nil
}

func (l *Ledger) ListAuctions(ctx context.Context, actor models.Actor, status models.AuctionStatus) ([]*models.AuctionListing, error) {
	var listings []*models.AuctionListing
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		listings, err = tx.ListAuctions(ctx, actor.BranchID, status)
		return err
	})
	if err != nil {
		return nil, l.finish("list_auctions", err)
	}
	if listings == nil {
		listings = []*models.AuctionListing{}
	}
	return listings, nil
}

type SettlementInput struct {
	AuctionID   uuid.UUID `json:"auction_id"`
	GrossAmount int64     `json:"gross_amount"`
	Fees        int64     `json:"fees"`
	SettledAt   time.Time `json:"settled_at"` // zero means now
	Note        string    `json:"note"`
}

func (in SettlementInput) validate() error {
	if in.GrossAmount <= 0 {
		return apperror.Validation("gross amount must be greater than 0")
	}
	if in.Fees < 0 {
		return apperror.Validation("fees cannot be negative")
	}
	if in.GrossAmount-in.Fees <= 0 {
		return apperror.Validation("net amount must be greater than 0")
	}
	return nil
}

// SettlementResult is a settlement and the cash it brought in.
type SettlementResult struct {
	Settlement  *models.AuctionSettlement `json:"settlement"`
	LedgerEntry *models.CashLedgerEntry   `json:"ledger_entry"`
}

// SettleAuction records the proceeds of a SOLD auction once, booking the net
// amount as cash in.
func (l *Ledger) SettleAuction(ctx context.Context, actor models.Actor, in SettlementInput) (*SettlementResult, error) {
	if err := in.validate(); err != nil {
		return nil, l.finish("settle_auction", err)
	}
	now := l.now()
	settledAt := in.SettledAt
	if settledAt.IsZero() {
		settledAt = now
	}

	var result *SettlementResult
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAuction(ctx, in.AuctionID)
		if err != nil {
			return missing(err, "auction")
		}
		if a.BranchID != actor.BranchID {
			return apperror.Forbidden("auction belongs to another branch")
		}
		if a.Status != models.AuctionSold {
			return apperror.Conflict("only SOLD auctions can be settled (status %s)", a.Status)
		}
		if a.ClosedAt != nil && settledAt.Before(*a.ClosedAt) {
			if l.calendarDate(settledAt).Before(l.calendarDate(*a.ClosedAt)) {
				return apperror.Validation("settlement date %s is before the auction closed on %s",
					settledAt.In(l.loc).Format(time.DateOnly), a.ClosedAt.In(l.loc).Format(time.DateOnly))
			}
			// Same day given without a time of day.
			settledAt = *a.ClosedAt
		}
		existing, err := tx.ListSettlementsForAuction(ctx, a.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperror.Conflict("auction is already settled")
		}

		settlementID, entryID := uuid.New(), uuid.New()
		s := &models.AuctionSettlement{
			ID:            settlementID,
			AuctionID:     a.ID,
			LoanID:        a.LoanID,
			BranchID:      a.BranchID,
			GrossAmount:   in.GrossAmount,
			Fees:          in.Fees,
			NetAmount:     in.GrossAmount - in.Fees,
			SettledAt:     settledAt,
			Note:          strings.TrimSpace(in.Note),
			LedgerEntryID: &entryID,
			SettledBy:     actor.UserID,
			CreatedAt:     now,
		}
		entry := &models.CashLedgerEntry{
			ID:           entryID,
			BranchID:     a.BranchID,
			LoanID:       &a.LoanID,
			Direction:    models.DirectionIn,
			Source:       models.SourceAuction,
			Amount:       s.NetAmount,
			Status:       models.EntryStatusPosted,
			TxDate:       settledAt,
			Note:         s.Note,
			SettlementID: &settlementID,
			AuctionID:    &a.ID,
			CreatedBy:    actor.UserID,
			CreatedAt:    now,
		}
		if err := tx.CreateSettlement(ctx, s); err != nil {
			return err
		}
		if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
			return err
		}
		result = &SettlementResult{Settlement: s, LedgerEntry: entry}
		return nil
	})
	if err != nil {
		return nil, l.finish("settle_auction", err)
	}

	s := result.Settlement
	metrics.Settlements.Inc()
	metrics.LedgerEntries.WithLabelValues(string(models.SourceAuction), string(models.DirectionIn)).Inc()
	l.logger.Info("auction settled",
		zap.String("loan_id", s.LoanID.String()),
		zap.String("auction_id", s.AuctionID.String()),
		zap.Int64("net_amount", s.NetAmount))
	l.publish(ctx, events.Event{
		Type: events.AuctionSettled, LoanID: s.LoanID, BranchID: s.BranchID, RefID: s.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"gross_amount": s.GrossAmount, "fees": s.Fees, "net_amount": s.NetAmount},
	})
	return result, nil
}
