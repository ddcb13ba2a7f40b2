package timeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/ledger"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

var day0 = time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func codes(warnings []Warning) map[string]int {
	out := make(map[string]int)
	for _, w := range warnings {
		out[w.Code]++
	}
	return out
}

func soldLoan() Records {
	loan := &models.Loan{ID: uuid.New(), Status: models.LoanStatusClosed, Principal: 1000000, CreatedAt: day0}
	closedAt := day(45)
	auction := &models.AuctionListing{ID: uuid.New(), LoanID: loan.ID, Status: models.AuctionSold, ListedAt: day(40), ClosedAt: &closedAt}
	settlement := &models.AuctionSettlement{ID: uuid.New(), AuctionID: auction.ID, LoanID: loan.ID, NetAmount: 1150000, SettledAt: day(46)}
	entry := &models.CashLedgerEntry{ID: uuid.New(), Direction: models.DirectionIn, Source: models.SourceAuction, Amount: 1150000, SettlementID: &settlement.ID}
	return Records{
		Loan:              loan,
		Decisions:         []*models.LoanDecision{{ID: uuid.New(), LoanID: loan.ID, Decision: models.DecisionAuction, CreatedAt: day(35)}},
		Auction:           auction,
		Settlements:       []*models.AuctionSettlement{settlement},
		SettlementEntries: map[uuid.UUID][]*models.CashLedgerEntry{settlement.ID: {entry}},
	}
}

func TestBuildOrdersEvents(t *testing.T) {
	r := soldLoan()
	reversedAt := day(12)
	r.Payments = []*models.Payment{
		{ID: uuid.New(), Amount: 30000, PaidAt: day(10), ReversedAt: &reversedAt},
		{ID: uuid.New(), Amount: 20000, PaidAt: day(10)},
	}
	r.Contracts = []*models.LoanContract{{ID: uuid.New(), Code: "GDI-JKT01-2024-000001", FinalizedAt: day0}}

	tl := Build(r)
	want := []EventType{
		ContractFinalized, LoanCreated, // same instant, lexical order
		PaymentRecorded, PaymentRecorded, PaymentReversed,
		DecisionRecorded, AuctionListed, AuctionClosed, AuctionSettled,
	}
	got := types(tl.Events)
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(tl.Warnings) != 0 {
		t.Errorf("Expected a consistent history, got %+v", tl.Warnings)
	}
}

func TestBuildWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Records)
		want   string
	}{
		{
			name: "contract finalized before loan",
			mutate: func(r *Records) {
				r.Contracts = []*models.LoanContract{{ID: uuid.New(), FinalizedAt: day0.Add(-time.Hour)}}
			},
			want: WarnFinalizedBeforeCreated,
		},
		{
			name:   "settled before listing",
			mutate: func(r *Records) { r.Settlements[0].SettledAt = day(39) },
			want:   WarnSettledBeforeListed,
		},
		{
			name:   "settled before closing",
			mutate: func(r *Records) { r.Settlements[0].SettledAt = day(44) },
			want:   WarnSettledBeforeClosed,
		},
		{
			name:   "sold but loan open",
			mutate: func(r *Records) { r.Loan.Status = models.LoanStatusOverdue },
			want:   WarnSoldLoanNotClosed,
		},
		{
			name:   "settlement on cancelled auction",
			mutate: func(r *Records) { r.Auction.Status = models.AuctionCancelled },
			want:   WarnSettledUnsold,
		},
		{
			name: "wrong entry source",
			mutate: func(r *Records) {
				r.SettlementEntries[r.Settlements[0].ID][0].Source = models.SourceManual
			},
			want: WarnSettlementEntrySource,
		},
		{
			name: "wrong entry direction",
			mutate: func(r *Records) {
				r.SettlementEntries[r.Settlements[0].ID][0].Direction = models.DirectionOut
			},
			want: WarnSettlementEntryDirection,
		},
		{
			name: "two settlements",
			mutate: func(r *Records) {
				dup := *r.Settlements[0]
				dup.ID = uuid.New()
				r.Settlements = append(r.Settlements, &dup)
			},
			want: WarnMultipleSettlements,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := soldLoan()
			tt.mutate(&r)
			got := codes(Build(r).Warnings)
			if got[tt.want] != 1 {
				t.Errorf("Expected one %s warning, got %v", tt.want, got)
			}
		})
	}
}

func TestBuildIgnoresCounterEntries(t *testing.T) {
	r := soldLoan()
	s := r.Settlements[0]
	orig := r.SettlementEntries[s.ID][0].ID
	r.SettlementEntries[s.ID] = append(r.SettlementEntries[s.ID], &models.CashLedgerEntry{
		ID: uuid.New(), Direction: models.DirectionOut, Source: models.SourceAuction, SettlementID: &s.ID, ReversalOf: &orig,
	})
	if w := Build(r).Warnings; len(w) != 0 {
		t.Errorf("Expected counter-entries to be skipped, got %+v", w)
	}
}

func TestLoanTimeline(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	now := day0
	l := ledger.NewLedger(s, zap.NewNop(), ledger.WithClock(func() time.Time { return now }))
	svc := NewService(s, zap.NewNop())
	actor := models.Actor{UserID: uuid.New(), Name: "Sari", BranchID: uuid.New(), Role: "cashier"}
	ctx := context.Background()

	customer := &models.Customer{ID: uuid.New(), BranchID: actor.BranchID, Name: "Budi", CreatedAt: day0}
	item := &models.CollateralItem{ID: uuid.New(), BranchID: actor.BranchID, Name: "Emas 10g", EstimatedValue: 2000000, CreatedAt: day0}
	err = s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateBranch(ctx, &models.Branch{ID: actor.BranchID, Code: "JKT01", Name: "Jakarta", CreatedAt: day0}); err != nil {
			return err
		}
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		return tx.CreateCollateral(ctx, item)
	})
	if err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	loan, err := l.CreateLoan(ctx, actor, ledger.CreateLoanInput{
		CustomerID: customer.ID, CollateralIDs: []uuid.UUID{item.ID}, Principal: 1000000, AdminFee: 10000, StartDate: day0,
	})
	if err != nil {
		t.Fatalf("CreateLoan() error = %v", err)
	}
	now = day(40)
	if _, err := l.RecordDecision(ctx, actor, loan.ID, models.DecisionAuction, "no contact"); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	now = day(41)
	listing, err := l.CreateAuction(ctx, actor, loan.ID)
	if err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}
	now = day(45)
	if _, err := l.CloseAuction(ctx, actor, listing.ID, models.AuctionSold, "sold to bidder 4"); err != nil {
		t.Fatalf("CloseAuction() error = %v", err)
	}
	now = day(46)
	if _, err := l.SettleAuction(ctx, actor, ledger.SettlementInput{AuctionID: listing.ID, GrossAmount: 1200000, Fees: 50000}); err != nil {
		t.Fatalf("SettleAuction() error = %v", err)
	}

	tl, err := svc.LoanTimeline(ctx, actor, loan.ID)
	if err != nil {
		t.Fatalf("LoanTimeline() error = %v", err)
	}
	want := []EventType{LoanCreated, DecisionRecorded, AuctionListed, AuctionClosed, AuctionSettled}
	got := types(tl.Events)
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if tl.Status != models.LoanStatusClosed || len(tl.Warnings) != 0 {
		t.Errorf("Expected a clean CLOSED timeline, got %s with %+v", tl.Status, tl.Warnings)
	}

	other := actor
	other.BranchID = uuid.New()
	if _, err := svc.LoanTimeline(ctx, other, loan.ID); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Expected forbidden for another branch, got %v", err)
	}
	if _, err := svc.LoanTimeline(ctx, actor, uuid.New()); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
