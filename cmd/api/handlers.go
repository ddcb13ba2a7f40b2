package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/contract"
	"github.com/mcclellann/pawnledger/pkg/ledger"
	"github.com/mcclellann/pawnledger/pkg/models"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch apperror.Kind(err) {
	case apperror.ErrValidation:
		return http.StatusBadRequest
	case apperror.ErrForbidden:
		return http.StatusForbidden
	case apperror.ErrNotFound:
		return http.StatusNotFound
	case apperror.ErrConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid %s id", name)
	}
	return id, nil
}

// parseDate accepts RFC3339 or a bare date, read in the business zone.
// Empty input yields the zero time.
func (s *Server) parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, s.loc); err == nil {
		return t, nil
	}
	return time.Time{}, apperror.Validation("%s must be RFC3339 or YYYY-MM-DD", field)
}

func (s *Server) optionalDate(field, value string) (*time.Time, error) {
	t, err := s.parseDate(field, value)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Loans

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID    uuid.UUID   `json:"customer_id"`
		CollateralIDs []uuid.UUID `json:"collateral_ids"`
		Principal     int64       `json:"principal"`
		AdminFee      int64       `json:"admin_fee"`
		StartDate     string      `json:"start_date"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := s.parseDate("start_date", req.StartDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), actorFrom(r.Context()), ledger.CreateLoanInput{
		CustomerID:    req.CustomerID,
		CollateralIDs: req.CollateralIDs,
		Principal:     req.Principal,
		AdminFee:      req.AdminFee,
		StartDate:     start,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.ledger.LoanSummary(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := models.LoanStatus(strings.ToUpper(r.URL.Query().Get("status")))
	loans, err := s.ledger.ListLoans(r.Context(), actorFrom(r.Context()), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), actorFrom(r.Context()), loanID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Payments

type paymentRequest struct {
	LoanID uuid.UUID `json:"loan_id"`
	Amount int64     `json:"amount"`
	PaidAt string    `json:"paid_at"`
	Note   string    `json:"note"`
}

func (s *Server) recordPayment(w http.ResponseWriter, r *http.Request, req paymentRequest) {
	paidAt, err := s.parseDate("paid_at", req.PaidAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.RecordPayment(r.Context(), actorFrom(r.Context()), ledger.PaymentInput{
		LoanID: req.LoanID,
		Amount: req.Amount,
		PaidAt: paidAt,
		Note:   req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) recordLoanPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.LoanID = loanID
	s.recordPayment(w, r, req)
}

func (s *Server) recordLedgerPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.LoanID == uuid.Nil {
		s.writeError(w, r, apperror.Validation("loan_id is required"))
		return
	}
	s.recordPayment(w, r, req)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.ledger.ListPayments(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) reversePaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.ReversePayment(r.Context(), actorFrom(r.Context()), paymentID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Decisions and auctions

func (s *Server) recordDecisionHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Decision string `json:"decision"`
		Note     string `json:"note"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	decision := models.DecisionType(strings.ToUpper(strings.TrimSpace(req.Decision)))
	d, err := s.ledger.RecordDecision(r.Context(), actorFrom(r.Context()), loanID, decision, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) listDecisionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	decisions, err := s.ledger.ListDecisions(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) createAuctionHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listing, err := s.ledger.CreateAuction(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (s *Server) listAuctionsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.AuctionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	listings, err := s.ledger.ListAuctions(r.Context(), actorFrom(r.Context()), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) closeAuctionHandler(w http.ResponseWriter, r *http.Request) {
	auctionID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := models.AuctionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	listing, err := s.ledger.CloseAuction(r.Context(), actorFrom(r.Context()), auctionID, status, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) settleAuctionHandler(w http.ResponseWriter, r *http.Request) {
	auctionID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		GrossAmount int64  `json:"gross_amount"`
		Fees        int64  `json:"fees"`
		SettledAt   string `json:"settled_at"`
		Note        string `json:"note"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	settledAt, err := s.parseDate("settled_at", req.SettledAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.SettleAuction(r.Context(), actorFrom(r.Context()), ledger.SettlementInput{
		AuctionID:   auctionID,
		GrossAmount: req.GrossAmount,
		Fees:        req.Fees,
		SettledAt:   settledAt,
		Note:        req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Contracts

func (s *Server) previewContractHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.contracts.Preview(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) finalizeContractHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.Finalize(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type contractResponse struct {
	*models.LoanContract
	HashValid bool `json:"hash_valid"`
}

func (s *Server) getContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.Get(r.Context(), actorFrom(r.Context()), contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contractResponse{LoanContract: c, HashValid: contract.Verify(c)})
}

func (s *Server) voidContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.contracts.Void(r.Context(), actorFrom(r.Context()), contractID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) timelineHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tl, err := s.timeline.LoanTimeline(r.Context(), actorFrom(r.Context()), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// Cash ledger

func (s *Server) listEntriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.EntryFilter
	if v := q.Get("loan_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.writeError(w, r, apperror.Validation("invalid loan_id"))
			return
		}
		f.LoanID = &id
	}
	f.Source = models.EntrySource(strings.ToUpper(q.Get("source")))
	var err error
	if f.From, err = s.optionalDate("from", q.Get("from")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.To, err = s.optionalDate("to", q.Get("to")); err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.ledger.ListEntries(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) postEntryHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string     `json:"direction"`
		Amount    int64      `json:"amount"`
		TxDate    string     `json:"tx_date"`
		Note      string     `json:"note"`
		LoanID    *uuid.UUID `json:"loan_id"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	txDate, err := s.parseDate("tx_date", req.TxDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.ledger.PostManualEntry(r.Context(), actorFrom(r.Context()), ledger.ManualEntryInput{
		Direction: models.Direction(strings.ToUpper(strings.TrimSpace(req.Direction))),
		Amount:    req.Amount,
		TxDate:    txDate,
		Note:      req.Note,
		LoanID:    req.LoanID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) reverseEntryHandler(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	counter, err := s.ledger.ReverseEntry(r.Context(), actorFrom(r.Context()), entryID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, counter)
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Reconcile(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Probes

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	var failed error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			failed = errors.Join(failed, err)
			continue
		}
		checks[name] = "ok"
	}
	if failed != nil {
		s.logger.Warn("readiness check failed", zap.Error(failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
