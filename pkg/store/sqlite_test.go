package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedLoan inserts a branch, customer and loan and returns the loan.
func seedLoan(t *testing.T, s *SQLStore) *models.Loan {
	t.Helper()
	now := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	branch := &models.Branch{ID: uuid.New(), Code: "JKT01", Name: "Jakarta Pusat", CreatedAt: now}
	customer := &models.Customer{ID: uuid.New(), BranchID: branch.ID, NIK: "3171000000000001", Name: "Budi", Address: "Jl. Merdeka 1", Phone: "0812", CreatedAt: now}
	loan := &models.Loan{
		ID:         uuid.New(),
		BranchID:   branch.ID,
		CustomerID: customer.ID,
		CreatedBy:  uuid.New(),
		Principal:  1000000,
		AdminFee:   10000,
		StartDate:  now,
		DueDate:    now.AddDate(0, 0, models.TenorDays),
		Status:     models.LoanStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.WithTx(context.Background(), func(tx Tx) error {
		if err := tx.CreateBranch(context.Background(), branch); err != nil {
			return err
		}
		if err := tx.CreateCustomer(context.Background(), customer); err != nil {
			return err
		}
		return tx.CreateLoan(context.Background(), loan)
	})
	if err != nil {
		t.Fatalf("Failed to seed loan: %v", err)
	}
	return loan
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()

	var fetched *models.Loan
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		fetched, err = tx.LockLoan(ctx, loan.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	if fetched.Principal != loan.Principal {
		t.Errorf("Expected Principal %d, got %d", loan.Principal, fetched.Principal)
	}
	if !fetched.DueDate.Equal(loan.DueDate) {
		t.Errorf("Expected DueDate %v, got %v", loan.DueDate, fetched.DueDate)
	}
	if fetched.Status != models.LoanStatusActive {
		t.Errorf("Expected status ACTIVE, got %s", fetched.Status)
	}
	if fetched.FinalTotalDue != nil || fetched.PaidOffAt != nil {
		t.Errorf("Expected no frozen terms, got %+v", fetched)
	}
}

func TestSQLiteStore_UpdateLoanFrozenTerms(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()

	paidOff := loan.StartDate.AddDate(0, 0, 10)
	days, rate := 10, 5
	interest, total := int64(50000), int64(1050000)
	loan.Status = models.LoanStatusLunas
	loan.PaidOffAt = &paidOff
	loan.FinalDaysUsed, loan.FinalRate = &days, &rate
	loan.FinalInterest, loan.FinalTotalDue = &interest, &total

	err := s.WithTx(ctx, func(tx Tx) error { return tx.UpdateLoan(ctx, loan) })
	if err != nil {
		t.Fatalf("UpdateLoan failed: %v", err)
	}

	var got *models.Loan
	s.WithTx(ctx, func(tx Tx) error {
		got, err = tx.GetLoan(ctx, loan.ID)
		return err
	})
	if got.Status != models.LoanStatusLunas || got.FinalTotalDue == nil || *got.FinalTotalDue != total {
		t.Fatalf("Expected frozen LUNAS terms, got %+v", got)
	}
	if got.PaidOffAt == nil || !got.PaidOffAt.Equal(paidOff) {
		t.Errorf("Expected PaidOffAt %v, got %v", paidOff, got.PaidOffAt)
	}
}

func TestSQLiteStore_SetLoanStatusGuardsCurrentStatus(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()
	at := loan.StartDate.AddDate(0, 0, 40)

	paidOff := loan.StartDate.AddDate(0, 0, 10)
	total := int64(1050000)
	loan.Status = models.LoanStatusLunas
	loan.PaidOffAt, loan.FinalTotalDue = &paidOff, &total
	if err := s.WithTx(ctx, func(tx Tx) error { return tx.UpdateLoan(ctx, loan) }); err != nil {
		t.Fatalf("UpdateLoan failed: %v", err)
	}

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SetLoanStatus(ctx, loan.ID, models.LoanStatusActive, models.LoanStatusOverdue, at)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound when the stored status moved on, got %v", err)
	}

	var got *models.Loan
	s.WithTx(ctx, func(tx Tx) error {
		got, err = tx.GetLoan(ctx, loan.ID)
		return err
	})
	if got.Status != models.LoanStatusLunas || got.FinalTotalDue == nil || got.PaidOffAt == nil {
		t.Errorf("Expected LUNAS with frozen terms untouched, got %+v", got)
	}

	fresh := newTestStore(t)
	other := seedLoan(t, fresh)
	err = fresh.WithTx(ctx, func(tx Tx) error {
		return tx.SetLoanStatus(ctx, other.ID, models.LoanStatusActive, models.LoanStatusOverdue, at)
	})
	if err != nil {
		t.Fatalf("SetLoanStatus failed: %v", err)
	}
	fresh.WithTx(ctx, func(tx Tx) error {
		got, err = tx.GetLoan(ctx, other.ID)
		return err
	})
	if got.Status != models.LoanStatusOverdue || !got.UpdatedAt.Equal(at) {
		t.Errorf("Expected OVERDUE updated at %v, got %s at %v", at, got.Status, got.UpdatedAt)
	}
}

func TestSQLiteStore_GetMissingLoan(t *testing.T) {
	s := newTestStore(t)
	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetLoan(context.Background(), uuid.New())
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		p := &models.Payment{ID: uuid.New(), LoanID: loan.ID, BranchID: loan.BranchID, Amount: 1000, PaidAt: loan.StartDate, CreatedAt: loan.StartDate}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	var n int
	s.WithTx(ctx, func(tx Tx) error {
		n, err = tx.CountPaymentsForLoan(ctx, loan.ID)
		return err
	})
	if n != 0 {
		t.Errorf("Expected rolled back payment, found %d", n)
	}
}

func TestSQLiteStore_NextSequencePerScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next := func(scope string) int64 {
		var v int64
		err := s.WithTx(ctx, func(tx Tx) error {
			var err error
			v, err = tx.NextSequence(ctx, scope)
			return err
		})
		if err != nil {
			t.Fatalf("NextSequence(%s) failed: %v", scope, err)
		}
		return v
	}

	if got := next("contract:a:2024"); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if got := next("contract:a:2024"); got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
	if got := next("contract:b:2024"); got != 1 {
		t.Errorf("Expected independent scope to start at 1, got %d", got)
	}
}

func TestSQLiteStore_LedgerReversalMarksOnce(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()

	entry := &models.CashLedgerEntry{
		ID: uuid.New(), BranchID: loan.BranchID, LoanID: &loan.ID, Direction: models.DirectionIn,
		Source: models.SourceManual, Amount: 25000, Status: models.EntryStatusPosted,
		TxDate: loan.StartDate, CreatedBy: loan.CreatedBy, CreatedAt: loan.StartDate,
	}
	counter := &models.CashLedgerEntry{
		ID: uuid.New(), BranchID: loan.BranchID, LoanID: &loan.ID, Direction: models.DirectionOut,
		Source: models.SourceManual, Amount: 25000, Status: models.EntryStatusPosted, ReversalOf: &entry.ID,
		TxDate: loan.StartDate, CreatedBy: loan.CreatedBy, CreatedAt: loan.StartDate,
	}

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.CreateLedgerEntry(ctx, counter); err != nil {
			return err
		}
		return tx.MarkLedgerEntryReversed(ctx, entry.ID, counter.ID)
	})
	if err != nil {
		t.Fatalf("reversal failed: %v", err)
	}

	err = s.WithTx(ctx, func(tx Tx) error { return tx.MarkLedgerEntryReversed(ctx, entry.ID, counter.ID) })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected second reversal to match no row, got %v", err)
	}

	var entries []*models.CashLedgerEntry
	s.WithTx(ctx, func(tx Tx) error {
		entries, err = tx.ListLedgerEntries(ctx, LedgerFilter{BranchID: loan.BranchID, LoanID: &loan.ID})
		return err
	})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		switch e.ID {
		case entry.ID:
			if e.Status != models.EntryStatusReversed || e.ReversedBy == nil || *e.ReversedBy != counter.ID {
				t.Errorf("original not linked to counter-entry: %+v", e)
			}
		case counter.ID:
			if e.Status != models.EntryStatusPosted || e.ReversalOf == nil || *e.ReversalOf != entry.ID {
				t.Errorf("counter-entry not linked to original: %+v", e)
			}
		}
	}
}

func TestSQLiteStore_OneFinalContractPerLoan(t *testing.T) {
	s := newTestStore(t)
	loan := seedLoan(t, s)
	ctx := context.Background()

	mk := func(code string) *models.LoanContract {
		return &models.LoanContract{
			ID: uuid.New(), LoanID: loan.ID, BranchID: loan.BranchID, Code: code, Status: models.ContractFinal,
			TemplateVersion: "v1", Snapshot: []byte(`{}`), SnapshotHash: "x", FinalizedBy: loan.CreatedBy,
			FinalizedAt: loan.StartDate, CreatedAt: loan.StartDate,
		}
	}

	if err := s.WithTx(ctx, func(tx Tx) error { return tx.CreateContract(ctx, mk("A-1")) }); err != nil {
		t.Fatalf("first contract failed: %v", err)
	}
	if err := s.WithTx(ctx, func(tx Tx) error { return tx.CreateContract(ctx, mk("A-2")) }); err == nil {
		t.Error("Expected unique index to reject a second FINAL contract")
	}
}

func TestDialectRebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	if got, want := postgresDialect.rebind(q), `UPDATE t SET a = $1, b = $2 WHERE id = $3`; got != want {
		t.Errorf("postgres rebind = %s, want %s", got, want)
	}
}
