package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/pawnledger/pkg/config"
	"github.com/mcclellann/pawnledger/pkg/ledger"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

type testAPI struct {
	server *Server
	router *mux.Router
	store  *store.SQLStore
	actor  models.Actor
}

func setupTestServer(t *testing.T) *testAPI {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{ContractPrefix: "GDI", Company: config.Company{Name: "PT Gadai Dana Indonesia"}}
	server := NewServer(s, cfg, zap.NewNop(), nil, time.UTC)
	api := &testAPI{
		server: server,
		router: server.Router(),
		store:  s,
		actor:  models.Actor{UserID: uuid.New(), Name: "Sari", BranchID: uuid.New(), Role: "cashier"},
	}

	ctx := context.Background()
	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateBranch(ctx, &models.Branch{ID: api.actor.BranchID, Code: "JKT01", Name: "Jakarta Pusat", CreatedAt: time.Now()})
	})
	if err != nil {
		t.Fatalf("Failed to seed branch: %v", err)
	}
	return api
}

func (a *testAPI) request(method, path string, body any, actor *models.Actor) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set(headerUserID, actor.UserID.String())
		req.Header.Set(headerUserName, actor.Name)
		req.Header.Set(headerBranchID, actor.BranchID.String())
		req.Header.Set(headerUserRole, actor.Role)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	return a.request(method, path, body, &a.actor)
}

func (a *testAPI) createLoan(t *testing.T) *models.Loan {
	t.Helper()
	ctx := context.Background()
	customer := &models.Customer{ID: uuid.New(), BranchID: a.actor.BranchID, NIK: "3171000000000001", Name: "Budi", CreatedAt: time.Now()}
	item := &models.CollateralItem{ID: uuid.New(), BranchID: a.actor.BranchID, Name: "Emas 10g", EstimatedValue: 2000000, CreatedAt: time.Now()}
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		return tx.CreateCollateral(ctx, item)
	})
	if err != nil {
		t.Fatalf("Failed to seed customer: %v", err)
	}

	rr := a.do("POST", "/loans", map[string]any{
		"customer_id":    customer.ID,
		"collateral_ids": []uuid.UUID{item.ID},
		"principal":      1000000,
		"admin_fee":      10000,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var loan models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loan)
	return &loan
}

func TestAPI_RequiresActor(t *testing.T) {
	api := setupTestServer(t)

	if rr := api.request("GET", "/loans", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without identity, got %d", rr.Code)
	}
	if rr := api.request("GET", "/health", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected health without identity, got %d", rr.Code)
	}
	if rr := api.request("GET", "/ready", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected ready with a live database, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	api := setupTestServer(t)
	loan := api.createLoan(t)

	if loan.Status != models.LoanStatusActive || loan.Principal != 1000000 {
		t.Errorf("unexpected loan: %+v", loan)
	}

	rr := api.do("GET", "/loans/"+loan.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var summary ledger.Summary
	json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.Loan.ID != loan.ID || summary.Rate != 5 || summary.Remaining != 1050000 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	rr = api.do("GET", "/loans?status=active", nil)
	var loans []models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loans)
	if rr.Code != http.StatusOK || len(loans) != 1 {
		t.Errorf("Expected one active loan, got %d (%d)", len(loans), rr.Code)
	}

	if rr := api.do("GET", "/loans/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad id, got %d", rr.Code)
	}
	if rr := api.do("GET", "/loans/"+uuid.NewString(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	other := api.actor
	other.BranchID = uuid.New()
	if rr := api.request("GET", "/loans/"+loan.ID.String(), nil, &other); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for another branch, got %d", rr.Code)
	}
}

func TestAPI_RecordPayment(t *testing.T) {
	api := setupTestServer(t)
	loan := api.createLoan(t)
	path := "/loans/" + loan.ID.String() + "/payments"

	rr := api.do("POST", path, map[string]any{"amount": 30000, "note": "partial"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var first ledger.PaymentResult
	json.Unmarshal(rr.Body.Bytes(), &first)
	if first.Payment.InterestPortion != 30000 || first.Payment.PrincipalPortion != 0 || first.Remaining != 1020000 {
		t.Errorf("unexpected allocation: %+v, remaining %d", first.Payment, first.Remaining)
	}

	if rr := api.do("POST", path, map[string]any{"amount": 2000000}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for overpayment, got %d", rr.Code)
	}
	if rr := api.do("POST", path, map[string]any{"amount": 100.5}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for fractional rupiah, got %d", rr.Code)
	}

	rr = api.do("POST", "/ledger/payments", map[string]any{"loan_id": loan.ID, "amount": 1020000})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var second ledger.PaymentResult
	json.Unmarshal(rr.Body.Bytes(), &second)
	if second.LoanStatus != models.LoanStatusLunas || second.Remaining != 0 {
		t.Errorf("Expected loan paid off, got %s remaining %d", second.LoanStatus, second.Remaining)
	}

	if rr := api.do("POST", path, map[string]any{"amount": 1000}); rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on a paid-off loan, got %d", rr.Code)
	}
	if rr := api.do("POST", "/ledger/payments", map[string]any{"amount": 1000}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without loan_id, got %d", rr.Code)
	}

	reverse := "/payments/" + second.Payment.ID.String() + "/reverse"
	if rr := api.do("POST", reverse, map[string]any{"reason": "no"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for short reason, got %d", rr.Code)
	}
	rr = api.do("POST", reverse, map[string]any{"reason": "cashier keyed wrong loan"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var reversal ledger.ReversalResult
	json.Unmarshal(rr.Body.Bytes(), &reversal)
	if reversal.LoanStatus != models.LoanStatusActive || reversal.CounterEntry.Direction != models.DirectionOut {
		t.Errorf("unexpected reversal: %+v", reversal)
	}
	if rr := api.do("POST", reverse, map[string]any{"reason": "cashier keyed wrong loan"}); rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on second reversal, got %d", rr.Code)
	}

	rr = api.do("GET", path, nil)
	var payments []models.Payment
	json.Unmarshal(rr.Body.Bytes(), &payments)
	if len(payments) != 2 {
		t.Errorf("Expected 2 payments listed, got %d", len(payments))
	}
}

func TestAPI_Contract(t *testing.T) {
	api := setupTestServer(t)
	loan := api.createLoan(t)

	rr := api.do("GET", "/loans/"+loan.ID.String()+"/contract/preview", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = api.do("POST", "/loans/"+loan.ID.String()+"/contract", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var c models.LoanContract
	json.Unmarshal(rr.Body.Bytes(), &c)
	want := "GDI-JKT01-" + time.Now().UTC().Format("2006") + "-000001"
	if c.Code != want {
		t.Errorf("Expected code %s, got %s", want, c.Code)
	}
	if rr := api.do("POST", "/loans/"+loan.ID.String()+"/contract", nil); rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on second finalize, got %d", rr.Code)
	}

	rr = api.do("GET", "/contracts/"+c.ID.String(), nil)
	var got contractResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if rr.Code != http.StatusOK || !got.HashValid {
		t.Errorf("Expected a verified contract, got %d %+v", rr.Code, got)
	}

	rr = api.do("POST", "/contracts/"+c.ID.String()+"/void", map[string]any{"reason": "wrong collateral"})
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 on void, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = api.do("GET", "/loans/"+loan.ID.String()+"/timeline", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var tl struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	json.Unmarshal(rr.Body.Bytes(), &tl)
	if len(tl.Events) != 3 {
		t.Errorf("Expected created, finalized and voided events, got %+v", tl.Events)
	}
}

func TestAPI_CashLedger(t *testing.T) {
	api := setupTestServer(t)
	api.createLoan(t)

	rr := api.do("POST", "/ledger/entries", map[string]any{"direction": "in", "amount": 500000, "note": "modal awal", "tx_date": "2024-05-01"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var entry models.CashLedgerEntry
	json.Unmarshal(rr.Body.Bytes(), &entry)

	if rr := api.do("POST", "/ledger/entries", map[string]any{"direction": "IN", "amount": 1, "note": "x"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for short note, got %d", rr.Code)
	}
	if rr := api.do("POST", "/ledger/entries", map[string]any{"direction": "IN", "amount": 1, "note": "top up", "tx_date": "01/05/2024"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad date, got %d", rr.Code)
	}

	rr = api.do("GET", "/ledger/balance", nil)
	var balance ledger.Balance
	json.Unmarshal(rr.Body.Bytes(), &balance)
	if balance.In != 500000 || balance.Out != 990000 || balance.Net != -490000 {
		t.Errorf("unexpected balance: %+v", balance)
	}

	rr = api.do("GET", "/ledger/entries?source=manual&from=2024-05-01&to=2024-05-02", nil)
	var entries []models.CashLedgerEntry
	json.Unmarshal(rr.Body.Bytes(), &entries)
	if rr.Code != http.StatusOK || len(entries) != 1 || entries[0].ID != entry.ID {
		t.Errorf("Expected the manual entry, got %d entries (%d)", len(entries), rr.Code)
	}

	rr = api.do("POST", "/ledger/entries/"+entry.ID.String()+"/reverse", map[string]any{"reason": "double posted"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = api.do("GET", "/ledger/reconcile", nil)
	var report ledger.ReconciliationReport
	json.Unmarshal(rr.Body.Bytes(), &report)
	if rr.Code != http.StatusOK || !report.IsBalanced || len(report.Discrepancies) != 0 {
		t.Errorf("Expected a balanced ledger, got %+v", report)
	}
}

func TestParseDate(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	s := &Server{loc: jakarta}

	got, err := s.parseDate("d", "2024-05-01")
	if err != nil || !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, jakarta)) {
		t.Errorf("parseDate(date) = %v, %v", got, err)
	}
	got, err = s.parseDate("d", "2024-05-01T10:00:00Z")
	if err != nil || !got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("parseDate(rfc3339) = %v, %v", got, err)
	}
	if got, err := s.parseDate("d", ""); err != nil || !got.IsZero() {
		t.Errorf("parseDate(empty) = %v, %v", got, err)
	}
	if _, err := s.parseDate("d", "yesterday"); err == nil {
		t.Error("Expected an error for an unparseable date")
	}
}
