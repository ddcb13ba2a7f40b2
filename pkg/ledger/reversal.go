package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

// ReversalResult is the outcome of undoing a posted payment.
type ReversalResult struct {
	Payment      *models.Payment         `json:"payment"`
	CounterEntry *models.CashLedgerEntry `json:"counter_entry"`
	LoanStatus   models.LoanStatus       `json:"loan_status"`
}

// counterEntry builds the opposite posting that cancels e.
func counterEntry(e *models.CashLedgerEntry, actor models.Actor, note string, now time.Time) *models.CashLedgerEntry {
	return &models.CashLedgerEntry{
		ID:           uuid.New(),
		BranchID:     e.BranchID,
		LoanID:       e.LoanID,
		Direction:    e.Direction.Opposite(),
		Source:       e.Source,
		Amount:       e.Amount,
		Status:       models.EntryStatusPosted,
		TxDate:       now,
		Note:         note,
		PaymentID:    e.PaymentID,
		SettlementID: e.SettlementID,
		AuctionID:    e.AuctionID,
		ReversalOf:   &e.ID,
		CreatedBy:    actor.UserID,
		CreatedAt:    now,
	}
}

// postReversal writes the counter-entry for e and flips e to REVERSED.
func postReversal(ctx context.Context, tx store.Tx, e, counter *models.CashLedgerEntry) error {
	if err := tx.CreateLedgerEntry(ctx, counter); err != nil {
		return err
	}
	if err := tx.MarkLedgerEntryReversed(ctx, e.ID, counter.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperror.Conflict("ledger entry is already reversed")
		}
		return err
	}
	return nil
}

// ReversePayment undoes a posted payment with a counter-entry. A paid-off
// loan that is no longer covered goes back to the status its obligation
// implies and loses its frozen terms. A payment can be reversed only once.
func (l *Ledger) ReversePayment(ctx context.Context, actor models.Actor, paymentID uuid.UUID, reason string) (*ReversalResult, error) {
	reason = strings.TrimSpace(reason)
	if err := validateReason(reason); err != nil {
		return nil, l.finish("reverse_payment", err)
	}
	now := l.now()

	var result *ReversalResult
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return missing(err, "payment")
		}
		loan, err := tx.LockLoan(ctx, p.LoanID)
		if err != nil {
			return missing(err, "loan")
		}
		if p, err = tx.LockPayment(ctx, paymentID); err != nil {
			return missing(err, "payment")
		}
		if p.Reversed() {
			return apperror.Conflict("payment is already reversed")
		}
		if p.LedgerEntryID == nil {
			return apperror.Conflict("payment has no ledger entry to reverse")
		}
		entry, err := tx.LockLedgerEntry(ctx, *p.LedgerEntryID)
		if err != nil {
			return missing(err, "ledger entry")
		}
		if entry.Status == models.EntryStatusReversed {
			return apperror.Conflict("ledger entry is already reversed")
		}
		if entry.BranchID != actor.BranchID {
			return apperror.Forbidden("payment belongs to another branch")
		}

		if _, err := l.SyncStatus(ctx, tx, loan, now); err != nil {
			return err
		}

		counter := counterEntry(entry, actor, "payment reversal: "+reason, now)
		if err := postReversal(ctx, tx, entry, counter); err != nil {
			return err
		}
		if err := tx.MarkPaymentReversed(ctx, p.ID, now, actor.UserID, reason); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.Conflict("payment is already reversed")
			}
			return err
		}
		p.ReversedAt, p.ReversedBy, p.ReversalReason = &now, &actor.UserID, reason

		if loan.Status == models.LoanStatusLunas {
			payments, err := tx.ListPaymentsForLoan(ctx, loan.ID)
			if err != nil {
				return err
			}
			res, err := l.obligation(loan, now)
			if err != nil {
				return err
			}
			if sumPaid(payments).Total() < res.TotalDue {
				loan.Status = res.Status
				loan.ClearFinalTerms()
				loan.UpdatedAt = now
				if err := tx.UpdateLoan(ctx, loan); err != nil {
					return err
				}
			}
		}

		result = &ReversalResult{Payment: p, CounterEntry: counter, LoanStatus: loan.Status}
		return nil
	})
	if err != nil {
		return nil, l.finish("reverse_payment", err)
	}

	metrics.PaymentsReversed.Inc()
	metrics.LedgerEntries.WithLabelValues(string(result.CounterEntry.Source), string(result.CounterEntry.Direction)).Inc()
	l.logger.Info("payment reversed",
		zap.String("loan_id", result.Payment.LoanID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.Int64("amount", result.Payment.Amount),
		zap.String("loan_status", string(result.LoanStatus)))
	l.publish(ctx, events.Event{
		Type: events.PaymentReversed, LoanID: result.Payment.LoanID, BranchID: result.Payment.BranchID,
		RefID: paymentID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"amount": result.Payment.Amount, "reason": reason, "loan_status": result.LoanStatus},
	})
	return result, nil
}
