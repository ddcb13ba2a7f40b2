package contract

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/ledger"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

var now = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.SQLStore
	ledger    *ledger.Ledger
	finalizer *Finalizer
	actor     models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "contract.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := func() time.Time { return now }
	l := ledger.NewLedger(s, zap.NewNop(), ledger.WithClock(clock))
	f := &fixture{
		store:     s,
		ledger:    l,
		finalizer: NewFinalizer(s, l, zap.NewNop(), "GDI", Company{Name: "PT Gadai Dana Indonesia", Address: "Jakarta"}, WithClock(clock)),
		actor:     models.Actor{UserID: uuid.New(), Name: "Sari", BranchID: uuid.New(), Role: "cashier"},
	}
	ctx := context.Background()
	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateBranch(ctx, &models.Branch{ID: f.actor.BranchID, Code: "JKT01", Name: "Jakarta Pusat", CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("Failed to seed branch: %v", err)
	}
	return f
}

func (f *fixture) newLoan(t *testing.T) *models.Loan {
	t.Helper()
	ctx := context.Background()
	customer := &models.Customer{ID: uuid.New(), BranchID: f.actor.BranchID, NIK: "3171000000000001", Name: "Budi", Address: "Jl. Merdeka 1", Phone: "0812", CreatedAt: now}
	ring := &models.CollateralItem{ID: uuid.New(), BranchID: f.actor.BranchID, Name: "Cincin emas", Description: "5 gram", EstimatedValue: 1500000, CreatedAt: now}
	phone := &models.CollateralItem{ID: uuid.New(), BranchID: f.actor.BranchID, Name: "Ponsel", Description: "bekas", EstimatedValue: 700000, CreatedAt: now.Add(time.Second)}
	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		if err := tx.CreateCollateral(ctx, ring); err != nil {
			return err
		}
		return tx.CreateCollateral(ctx, phone)
	})
	if err != nil {
		t.Fatalf("Failed to seed parties: %v", err)
	}
	loan, err := f.ledger.CreateLoan(ctx, f.actor, ledger.CreateLoanInput{
		CustomerID: customer.ID, CollateralIDs: []uuid.UUID{ring.ID, phone.ID}, Principal: 1000000, AdminFee: 10000, StartDate: now,
	})
	if err != nil {
		t.Fatalf("CreateLoan() error = %v", err)
	}
	return loan
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)
	ctx := context.Background()

	c, err := f.finalizer.Finalize(ctx, f.actor, loan.ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if c.Code != "GDI-JKT01-2024-000001" {
		t.Errorf("Expected first code GDI-JKT01-2024-000001, got %s", c.Code)
	}
	if c.Status != models.ContractFinal || !Verify(c) {
		t.Errorf("Expected FINAL contract with a valid hash, got %+v", c)
	}

	var snap Snapshot
	if err := json.Unmarshal(c.Snapshot, &snap); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if snap.Meta.ContractCode == nil || *snap.Meta.ContractCode != c.Code {
		t.Errorf("Expected snapshot to carry the code, got %v", snap.Meta.ContractCode)
	}
	if snap.Financial.TotalEstimatedValue != 2200000 || snap.Financial.NetDisbursed != 990000 || snap.Financial.TenorDays != 30 {
		t.Errorf("unexpected financial block: %+v", snap.Financial)
	}
	if len(snap.Collateral) != 2 || snap.Collateral[0].Seq != 1 || snap.Collateral[1].Name != "Ponsel" {
		t.Errorf("unexpected collateral list: %+v", snap.Collateral)
	}

	_, err = f.finalizer.Finalize(ctx, f.actor, loan.ID)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Expected conflict on second finalize, got %v", err)
	}

	var stored *models.Loan
	f.store.WithTx(ctx, func(tx store.Tx) error {
		stored, err = tx.GetLoan(ctx, loan.ID)
		return err
	})
	if stored.ContractFinalizedAt == nil || !stored.ContractFinalizedAt.Equal(now) {
		t.Errorf("Expected loan finalized timestamp, got %v", stored.ContractFinalizedAt)
	}

	second, err := f.finalizer.Finalize(ctx, f.actor, f.newLoan(t).ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if second.Code != "GDI-JKT01-2024-000002" {
		t.Errorf("Expected sequential code, got %s", second.Code)
	}
}

func TestPreviewHasNoCode(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)

	snap, err := f.finalizer.Preview(context.Background(), f.actor, loan.ID)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if snap.Meta.ContractCode != nil {
		t.Errorf("Expected no code on preview, got %s", *snap.Meta.ContractCode)
	}
	data, _ := json.Marshal(snap)
	if !strings.Contains(string(data), `"contract_code":null`) {
		t.Errorf("Expected null contract_code, got %s", data)
	}
	if !strings.Contains(strings.Join(snap.Clauses, "\n"), "Rp 990.000") {
		t.Errorf("Expected net disbursed in clauses, got %v", snap.Clauses)
	}
	if snap.Meta.CashierName != "Sari" || snap.Meta.BranchCode != "JKT01" {
		t.Errorf("unexpected meta: %+v", snap.Meta)
	}
}

func TestVoid(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)
	ctx := context.Background()

	c, err := f.finalizer.Finalize(ctx, f.actor, loan.ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	_, err = f.finalizer.Void(ctx, f.actor, c.ID, "typo")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Expected validation error for short reason, got %v", err)
	}

	voided, err := f.finalizer.Void(ctx, f.actor, c.ID, "wrong collateral")
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if voided.Status != models.ContractVoid || voided.VoidedAt == nil || voided.VoidReason != "wrong collateral" {
		t.Errorf("unexpected voided contract: %+v", voided)
	}

	_, err = f.finalizer.Void(ctx, f.actor, c.ID, "wrong collateral")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Expected conflict voiding twice, got %v", err)
	}

	again, err := f.finalizer.Finalize(ctx, f.actor, loan.ID)
	if err != nil {
		t.Fatalf("re-finalize error = %v", err)
	}
	if again.Code != "GDI-JKT01-2024-000002" {
		t.Errorf("Expected a fresh code after void, got %s", again.Code)
	}
}

func TestVoidBlockedByPayments(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)
	ctx := context.Background()

	c, err := f.finalizer.Finalize(ctx, f.actor, loan.ID)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	p, err := f.ledger.RecordPayment(ctx, f.actor, ledger.PaymentInput{LoanID: loan.ID, Amount: 10000})
	if err != nil {
		t.Fatalf("RecordPayment() error = %v", err)
	}
	if _, err := f.ledger.ReversePayment(ctx, f.actor, p.Payment.ID, "entered by mistake"); err != nil {
		t.Fatalf("ReversePayment() error = %v", err)
	}

	_, err = f.finalizer.Void(ctx, f.actor, c.ID, "customer changed mind")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Expected conflict once a payment exists, got %v", err)
	}
}

func TestFinalizeConcurrent(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.finalizer.Finalize(ctx, f.actor, loan.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("Finalize() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != workers-1 {
		t.Errorf("Expected 1 success and %d conflicts, got %d/%d", workers-1, succeeded, conflicts)
	}
	var contracts []*models.LoanContract
	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		contracts, err = tx.ListContractsForLoan(ctx, loan.ID)
		return err
	})
	if err != nil {
		t.Fatalf("ListContractsForLoan() error = %v", err)
	}
	final := 0
	for _, c := range contracts {
		if c.Status == models.ContractFinal {
			final++
		}
	}
	if len(contracts) != 1 || final != 1 {
		t.Errorf("Expected exactly one FINAL contract, got %d rows with %d FINAL", len(contracts), final)
	}
}

func TestFinalizeOtherBranch(t *testing.T) {
	f := newFixture(t)
	loan := f.newLoan(t)
	other := f.actor
	other.BranchID = uuid.New()

	_, err := f.finalizer.Finalize(context.Background(), other, loan.ID)
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Expected forbidden, got %v", err)
	}
	_, err = f.finalizer.Finalize(context.Background(), f.actor, uuid.New())
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestFormatCode(t *testing.T) {
	if got := FormatCode("GDI", "BDG02", 2025, 42); got != "GDI-BDG02-2025-000042" {
		t.Errorf("FormatCode() = %s", got)
	}
}

func TestFormatRupiah(t *testing.T) {
	tests := map[int64]string{
		0:       "Rp 0",
		990:     "Rp 990",
		990000:  "Rp 990.000",
		1150000: "Rp 1.150.000",
	}
	for amount, want := range tests {
		if got := FormatRupiah(amount); got != want {
			t.Errorf("FormatRupiah(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestHashDetectsTampering(t *testing.T) {
	data, hash, err := Seal(&Snapshot{TemplateVersion: TemplateVersion})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	c := &models.LoanContract{Snapshot: data, SnapshotHash: hash}
	if !Verify(c) {
		t.Fatal("Expected sealed snapshot to verify")
	}
	c.Snapshot = []byte(strings.Replace(string(data), TemplateVersion, "forged", 1))
	if Verify(c) {
		t.Error("Expected tampered snapshot to fail verification")
	}
}
