package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

// Discrepancy is one ledger inconsistency found by Reconcile.
type Discrepancy struct {
	EntryID     *uuid.UUID `json:"entry_id,omitempty"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
}

// ReconciliationReport summarises a reconciliation run. It is advisory and
// nothing is corrected.
type ReconciliationReport struct {
	BranchID      uuid.UUID     `json:"branch_id"`
	CheckedAt     time.Time     `json:"checked_at"`
	TotalEntries  int           `json:"total_entries"`
	TotalPayments int           `json:"total_payments"`
	Balance       *Balance      `json:"balance"`
	IsBalanced    bool          `json:"is_balanced"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// FindDiscrepancies checks the counter-entry invariant over entries and the
// payment to entry links over payments.
func FindDiscrepancies(entries []*models.CashLedgerEntry, payments []*models.Payment) []Discrepancy {
	discrepancies := []Discrepancy{}
	byID := make(map[uuid.UUID]*models.CashLedgerEntry, len(entries))
	counters := make(map[uuid.UUID][]*models.CashLedgerEntry)
	for _, e := range entries {
		byID[e.ID] = e
		if e.ReversalOf != nil {
			counters[*e.ReversalOf] = append(counters[*e.ReversalOf], e)
		}
	}
	add := func(entryID, paymentID *uuid.UUID, typ, format string, args ...any) {
		discrepancies = append(discrepancies, Discrepancy{
			EntryID: entryID, PaymentID: paymentID, Type: typ, Description: fmt.Sprintf(format, args...),
		})
	}

	for _, e := range entries {
		id := e.ID
		if e.ReversalOf != nil && e.Status != models.EntryStatusPosted {
			add(&id, nil, "counter_entry_not_posted", "counter-entry %s has status %s", e.ID, e.Status)
		}
		cs := counters[e.ID]
		if e.Status != models.EntryStatusReversed {
			if len(cs) > 0 {
				add(&id, nil, "orphan_counter_entry", "entry %s is %s but has %d counter-entries", e.ID, e.Status, len(cs))
			}
			continue
		}
		if len(cs) != 1 {
			add(&id, nil, "counter_entry_count", "reversed entry %s has %d counter-entries, want 1", e.ID, len(cs))
			continue
		}
		c := cs[0]
		if c.Direction != e.Direction.Opposite() || c.Amount != e.Amount {
			add(&id, nil, "counter_entry_mismatch", "counter-entry %s is %s %d, want %s %d",
				c.ID, c.Direction, c.Amount, e.Direction.Opposite(), e.Amount)
		}
		if e.ReversedBy == nil || *e.ReversedBy != c.ID {
			add(&id, nil, "reversed_by_link", "reversed entry %s does not point at counter-entry %s", e.ID, c.ID)
		}
	}

	for _, p := range payments {
		pid := p.ID
		if p.LedgerEntryID == nil {
			add(nil, &pid, "payment_without_entry", "payment %s has no ledger entry", p.ID)
			continue
		}
		e, ok := byID[*p.LedgerEntryID]
		if !ok {
			add(p.LedgerEntryID, &pid, "payment_without_entry", "ledger entry %s of payment %s not found", *p.LedgerEntryID, p.ID)
			continue
		}
		if e.Amount != p.Amount {
			add(&e.ID, &pid, "amount_mismatch", "payment %s is %d but its entry is %d", p.ID, p.Amount, e.Amount)
		}
		if p.InterestPortion+p.PrincipalPortion != p.Amount {
			add(&e.ID, &pid, "allocation_mismatch", "payment %s portions %d+%d do not sum to %d",
				p.ID, p.InterestPortion, p.PrincipalPortion, p.Amount)
		}
		if p.Reversed() != (e.Status == models.EntryStatusReversed) {
			add(&e.ID, &pid, "reversal_state_mismatch", "payment %s reversed=%t but its entry is %s", p.ID, p.Reversed(), e.Status)
		}
	}
	return discrepancies
}

// Reconcile checks the caller's branch ledger. It reads only.
func (l *Ledger) Reconcile(ctx context.Context, actor models.Actor) (*ReconciliationReport, error) {
	var entries []*models.CashLedgerEntry
	var payments []*models.Payment
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListLedgerEntries(ctx, store.LedgerFilter{BranchID: actor.BranchID})
		if err != nil {
			return err
		}
		loans, err := tx.ListLoans(ctx, actor.BranchID, "")
		if err != nil {
			return err
		}
		for _, loan := range loans {
			ps, err := tx.ListPaymentsForLoan(ctx, loan.ID)
			if err != nil {
				return err
			}
			payments = append(payments, ps...)
		}
		return nil
	})
	if err != nil {
		return nil, l.finish("reconcile", err)
	}

	report := &ReconciliationReport{
		BranchID:      actor.BranchID,
		CheckedAt:     l.now(),
		TotalEntries:  len(entries),
		TotalPayments: len(payments),
		Balance:       computeBalance(actor.BranchID, entries),
		Discrepancies: FindDiscrepancies(entries, payments),
	}
	report.IsBalanced = len(report.Discrepancies) == 0

	if report.IsBalanced {
		l.logger.Info("reconciliation complete - BALANCED",
			zap.String("branch_id", actor.BranchID.String()),
			zap.Int("entries", report.TotalEntries))
	} else {
		l.logger.Warn("reconciliation complete - UNBALANCED",
			zap.String("branch_id", actor.BranchID.String()),
			zap.Int("discrepancies", len(report.Discrepancies)))
	}
	return report, nil
}
