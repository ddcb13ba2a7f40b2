// Package timeline rebuilds the audit history of a loan from its stored
// records and flags inconsistencies between them. It never writes.
package timeline

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

type EventType string

const (
	LoanCreated       EventType = "LOAN_CREATED"
	PaymentRecorded   EventType = "PAYMENT_RECORDED"
	PaymentReversed   EventType = "PAYMENT_REVERSED"
	LoanPaidOff       EventType = "LOAN_PAID_OFF"
	DecisionRecorded  EventType = "DECISION_RECORDED"
	ContractFinalized EventType = "CONTRACT_FINALIZED"
	ContractVoided    EventType = "CONTRACT_VOIDED"
	AuctionListed     EventType = "AUCTION_LISTED"
	AuctionClosed     EventType = "AUCTION_CLOSED"
	AuctionSettled    EventType = "AUCTION_SETTLED"
)

type Event struct {
	At      time.Time  `json:"at"`
	Type    EventType  `json:"type"`
	RefID   uuid.UUID  `json:"ref_id"`
	ActorID *uuid.UUID `json:"actor_id,omitempty"`
	Amount  *int64     `json:"amount,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}

// Warning codes.
const (
	WarnFinalizedBeforeCreated   = "contract_finalized_before_loan_created"
	WarnSettledBeforeListed      = "settlement_before_listing"
	WarnSettledBeforeClosed      = "settlement_before_closing"
	WarnSettledUnsold            = "settlement_on_unsold_auction"
	WarnSoldLoanNotClosed        = "auction_sold_loan_not_closed"
	WarnSettlementEntrySource    = "settlement_entry_wrong_source"
	WarnSettlementEntryDirection = "settlement_entry_wrong_direction"
	WarnMultipleSettlements      = "multiple_settlements"
)

type Warning struct {
	Code    string    `json:"code"`
	RefID   uuid.UUID `json:"ref_id"`
	Message string    `json:"message"`
}

type Timeline struct {
	LoanID   uuid.UUID         `json:"loan_id"`
	Status   models.LoanStatus `json:"status"`
	Events   []Event           `json:"events"`
	Warnings []Warning         `json:"warnings"`
}

// Records is everything stored about one loan.
type Records struct {
	Loan        *models.Loan
	Payments    []*models.Payment
	Decisions   []*models.LoanDecision
	Contracts   []*models.LoanContract
	Auction     *models.AuctionListing // nil when never listed
	Settlements []*models.AuctionSettlement

	// SettlementEntries holds the cash ledger entries carrying each
	// settlement's ID.
	SettlementEntries map[uuid.UUID][]*models.CashLedgerEntry
}

func ptr[T any](v T) *T { return &v }

// Build orders the loan's history by time, breaking ties by event type name,
// and runs the consistency checks.
func Build(r Records) *Timeline {
	loan := r.Loan
	t := &Timeline{LoanID: loan.ID, Status: loan.Status, Events: []Event{}, Warnings: []Warning{}}
	add := func(e Event) { t.Events = append(t.Events, e) }

	add(Event{At: loan.CreatedAt, Type: LoanCreated, RefID: loan.ID, ActorID: ptr(loan.CreatedBy), Amount: ptr(loan.Principal)})
	for _, p := range r.Payments {
		add(Event{At: p.PaidAt, Type: PaymentRecorded, RefID: p.ID, ActorID: ptr(p.RecordedBy), Amount: ptr(p.Amount),
			Detail: fmt.Sprintf("interest %d, principal %d", p.InterestPortion, p.PrincipalPortion)})
		if p.Reversed() {
			add(Event{At: *p.ReversedAt, Type: PaymentReversed, RefID: p.ID, ActorID: p.ReversedBy, Amount: ptr(p.Amount),
				Detail: p.ReversalReason})
		}
	}
	if loan.Status == models.LoanStatusLunas && loan.PaidOffAt != nil {
		add(Event{At: *loan.PaidOffAt, Type: LoanPaidOff, RefID: loan.ID, Amount: loan.FinalTotalDue})
	}
	for _, d := range r.Decisions {
		add(Event{At: d.CreatedAt, Type: DecisionRecorded, RefID: d.ID, ActorID: ptr(d.DecidedBy),
			Detail: strings.TrimSpace(string(d.Decision) + " " + d.Note)})
	}
	for _, c := range r.Contracts {
		add(Event{At: c.FinalizedAt, Type: ContractFinalized, RefID: c.ID, ActorID: ptr(c.FinalizedBy), Detail: c.Code})
		if c.VoidedAt != nil {
			add(Event{At: *c.VoidedAt, Type: ContractVoided, RefID: c.ID, ActorID: c.VoidedBy, Detail: c.VoidReason})
		}
		if c.FinalizedAt.Before(loan.CreatedAt) {
			t.warn(WarnFinalizedBeforeCreated, c.ID, "contract %s finalized at %s before the loan was created at %s",
				c.Code, c.FinalizedAt.Format(time.RFC3339), loan.CreatedAt.Format(time.RFC3339))
		}
	}
	if a := r.Auction; a != nil {
		add(Event{At: a.ListedAt, Type: AuctionListed, RefID: a.ID, ActorID: ptr(a.ListedBy), Amount: ptr(a.Remaining)})
		if a.ClosedAt != nil {
			add(Event{At: *a.ClosedAt, Type: AuctionClosed, RefID: a.ID, ActorID: a.ClosedBy,
				Detail: strings.TrimSpace(string(a.Status) + " " + a.CloseNote)})
		}
		if a.Status == models.AuctionSold && loan.Status != models.LoanStatusClosed {
			t.warn(WarnSoldLoanNotClosed, a.ID, "auction is SOLD but loan is %s", loan.Status)
		}
	}

	perAuction := make(map[uuid.UUID]int)
	for _, s := range r.Settlements {
		add(Event{At: s.SettledAt, Type: AuctionSettled, RefID: s.ID, ActorID: ptr(s.SettledBy), Amount: ptr(s.NetAmount),
			Detail: fmt.Sprintf("gross %d, fees %d", s.GrossAmount, s.Fees)})
		perAuction[s.AuctionID]++
		if perAuction[s.AuctionID] == 2 {
			t.warn(WarnMultipleSettlements, s.AuctionID, "auction has more than one settlement")
		}
		t.checkSettlement(r.Auction, s, r.SettlementEntries[s.ID])
	}

	slices.SortStableFunc(t.Events, func(a, b Event) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return t
}

func (t *Timeline) warn(code string, ref uuid.UUID, format string, args ...any) {
	t.Warnings = append(t.Warnings, Warning{Code: code, RefID: ref, Message: fmt.Sprintf(format, args...)})
}

func (t *Timeline) checkSettlement(a *models.AuctionListing, s *models.AuctionSettlement, entries []*models.CashLedgerEntry) {
	if a != nil && a.ID == s.AuctionID {
		if s.SettledAt.Before(a.ListedAt) {
			t.warn(WarnSettledBeforeListed, s.ID, "settlement at %s precedes listing at %s",
				s.SettledAt.Format(time.RFC3339), a.ListedAt.Format(time.RFC3339))
		}
		if a.ClosedAt != nil && s.SettledAt.Before(*a.ClosedAt) {
			t.warn(WarnSettledBeforeClosed, s.ID, "settlement at %s precedes closing at %s",
				s.SettledAt.Format(time.RFC3339), a.ClosedAt.Format(time.RFC3339))
		}
		if a.Status != models.AuctionSold {
			t.warn(WarnSettledUnsold, s.ID, "settlement recorded on a %s auction", a.Status)
		}
	}
	for _, e := range entries {
		if e.ReversalOf != nil {
			continue
		}
		if e.Source != models.SourceAuction {
			t.warn(WarnSettlementEntrySource, e.ID, "settlement entry has source %s, want %s", e.Source, models.SourceAuction)
		}
		if e.Direction != models.DirectionIn {
			t.warn(WarnSettlementEntryDirection, e.ID, "settlement entry has direction %s, want %s", e.Direction, models.DirectionIn)
		}
	}
}
