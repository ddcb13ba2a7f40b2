package ledger

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

type ManualEntryInput struct {
	Direction models.Direction `json:"direction"`
	Amount    int64            `json:"amount"`
	TxDate    time.Time        `json:"tx_date"` // zero means now
	Note      string           `json:"note"`
	LoanID    *uuid.UUID       `json:"loan_id,omitempty"`
}

func (in ManualEntryInput) validate() error {
	if in.Direction != models.DirectionIn && in.Direction != models.DirectionOut {
		return apperror.Validation("direction must be IN or OUT")
	}
	if in.Amount <= 0 {
		return apperror.Validation("amount must be greater than 0")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Note)) < minNoteLength {
		return apperror.Validation("note must be at least %d characters", minNoteLength)
	}
	return nil
}

// PostManualEntry books cash moved by hand, such as a petty cash top-up.
func (l *Ledger) PostManualEntry(ctx context.Context, actor models.Actor, in ManualEntryInput) (*models.CashLedgerEntry, error) {
	if err := in.validate(); err != nil {
		return nil, l.finish("post_manual_entry", err)
	}
	now := l.now()
	txDate := in.TxDate
	if txDate.IsZero() {
		txDate = now
	}
	entry := &models.CashLedgerEntry{
		ID:        uuid.New(),
		BranchID:  actor.BranchID,
		LoanID:    in.LoanID,
		Direction: in.Direction,
		Source:    models.SourceManual,
		Amount:    in.Amount,
		Status:    models.EntryStatusPosted,
		TxDate:    txDate,
		Note:      strings.TrimSpace(in.Note),
		CreatedBy: actor.UserID,
		CreatedAt: now,
	}
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		if in.LoanID != nil {
			if _, err := getOwnedLoan(ctx, tx, actor, *in.LoanID); err != nil {
				return err
			}
		}
		return tx.CreateLedgerEntry(ctx, entry)
	})
	if err != nil {
		return nil, l.finish("post_manual_entry", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(models.SourceManual), string(entry.Direction)).Inc()
	l.logger.Info("manual entry posted",
		zap.String("entry_id", entry.ID.String()),
		zap.String("direction", string(entry.Direction)),
		zap.Int64("amount", entry.Amount))
	return entry, nil
}

// ReverseEntry cancels a manual entry with a counter-entry. Entries produced
// by payments, auctions or disbursements are reversed through their own
// workflow.
func (l *Ledger) ReverseEntry(ctx context.Context, actor models.Actor, entryID uuid.UUID, reason string) (*models.CashLedgerEntry, error) {
	reason = strings.TrimSpace(reason)
	if err := validateReason(reason); err != nil {
		return nil, l.finish("reverse_entry", err)
	}
	now := l.now()

	var counter *models.CashLedgerEntry
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		entry, err := tx.LockLedgerEntry(ctx, entryID)
		if err != nil {
			return missing(err, "ledger entry")
		}
		if entry.BranchID != actor.BranchID {
			return apperror.Forbidden("ledger entry belongs to another branch")
		}
		if entry.Source != models.SourceManual {
			return apperror.Conflict("only MANUAL entries can be reversed directly (source %s)", entry.Source)
		}
		if entry.ReversalOf != nil {
			return apperror.Conflict("a counter-entry cannot be reversed")
		}
		if entry.Status == models.EntryStatusReversed {
			return apperror.Conflict("ledger entry is already reversed")
		}
		counter = counterEntry(entry, actor, "manual reversal: "+reason, now)
		return postReversal(ctx, tx, entry, counter)
	})
	if err != nil {
		return nil, l.finish("reverse_entry", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(models.SourceManual), string(counter.Direction)).Inc()
	l.logger.Info("manual entry reversed",
		zap.String("entry_id", entryID.String()),
		zap.String("counter_entry_id", counter.ID.String()))
	return counter, nil
}

// EntryFilter narrows ListEntries to the caller's branch.
type EntryFilter struct {
	LoanID *uuid.UUID
	Source models.EntrySource
	From   *time.Time
	To     *time.Time
}

func (l *Ledger) ListEntries(ctx context.Context, actor models.Actor, f EntryFilter) ([]*models.CashLedgerEntry, error) {
	var entries []*models.CashLedgerEntry
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListLedgerEntries(ctx, store.LedgerFilter{
			BranchID: actor.BranchID,
			LoanID:   f.LoanID,
			Source:   f.Source,
			From:     f.From,
			To:       f.To,
		})
		return err
	})
	if err != nil {
		return nil, l.finish("list_entries", err)
	}
	if entries == nil {
		entries = []*models.CashLedgerEntry{}
	}
	return entries, nil
}

// Balance is a branch's cash position. Reversed entries and their
// counter-entries cancel out, so every entry is counted.
type Balance struct {
	BranchID uuid.UUID `json:"branch_id"`
	In       int64     `json:"in"`
	Out      int64     `json:"out"`
	Net      int64     `json:"net"`
	Entries  int       `json:"entries"`
}

func computeBalance(branchID uuid.UUID, entries []*models.CashLedgerEntry) *Balance {
	b := &Balance{BranchID: branchID, Entries: len(entries)}
	for _, e := range entries {
		if e.Direction == models.DirectionIn {
			b.In += e.Amount
		} else {
			b.Out += e.Amount
		}
	}
	b.Net = b.In - b.Out
	return b
}

func (l *Ledger) Balance(ctx context.Context, actor models.Actor) (*Balance, error) {
	entries, err := l.ListEntries(ctx, actor, EntryFilter{})
	if err != nil {
		return nil, err
	}
	return computeBalance(actor.BranchID, entries), nil
}
