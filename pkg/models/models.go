package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// All monetary amounts are int64 rupiah (the smallest currency unit).

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVE"
	LoanStatusOverdue LoanStatus = "OVERDUE"
	LoanStatusLunas   LoanStatus = "LUNAS" // fully paid, terms frozen
	LoanStatusClosed  LoanStatus = "CLOSED"
)

// Terminal reports whether the status is frozen and must never be recomputed.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusLunas || s == LoanStatusClosed
}

// TenorDays is the fixed loan term from start date to due date.
const TenorDays = 30

type Loan struct {
	ID         uuid.UUID  `json:"id"`
	BranchID   uuid.UUID  `json:"branch_id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	Principal  int64      `json:"principal"`
	AdminFee   int64      `json:"admin_fee"`
	StartDate  time.Time  `json:"start_date"`
	DueDate    time.Time  `json:"due_date"` // StartDate + TenorDays
	Status     LoanStatus `json:"status"`

	// Frozen final terms, set when the loan becomes LUNAS.
	PaidOffAt     *time.Time `json:"paid_off_at,omitempty"`
	FinalDaysUsed *int       `json:"final_days_used,omitempty"`
	FinalRate     *int       `json:"final_rate,omitempty"`
	FinalInterest *int64     `json:"final_interest,omitempty"`
	FinalTotalDue *int64     `json:"final_total_due,omitempty"`

	ContractFinalizedAt *time.Time `json:"contract_finalized_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ClearFinalTerms drops the frozen LUNAS snapshot.
func (l *Loan) ClearFinalTerms() {
	l.PaidOffAt = nil
	l.FinalDaysUsed = nil
	l.FinalRate = nil
	l.FinalInterest = nil
	l.FinalTotalDue = nil
}

type Payment struct {
	ID               uuid.UUID  `json:"id"`
	LoanID           uuid.UUID  `json:"loan_id"`
	BranchID         uuid.UUID  `json:"branch_id"`
	Amount           int64      `json:"amount"`
	PaidAt           time.Time  `json:"paid_at"`
	InterestPortion  int64      `json:"interest_portion"`
	PrincipalPortion int64      `json:"principal_portion"`
	Note             string     `json:"note,omitempty"`
	RecordedBy       uuid.UUID  `json:"recorded_by"`
	LedgerEntryID    *uuid.UUID `json:"ledger_entry_id,omitempty"`

	// Calculation snapshot at PaidAt.
	DaysUsed       int   `json:"days_used"`
	Rate           int   `json:"rate"`
	InterestAmount int64 `json:"interest_amount"`
	TotalDue       int64 `json:"total_due"`

	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	ReversedBy     *uuid.UUID `json:"reversed_by,omitempty"`
	ReversalReason string     `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (p *Payment) Reversed() bool { return p.ReversedAt != nil }

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Opposite returns the counter direction used by reversals.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

type EntrySource string

const (
	SourcePayment      EntrySource = "PAYMENT"
	SourceManual       EntrySource = "MANUAL"
	SourceAuction      EntrySource = "AUCTION"
	SourceDisbursement EntrySource = "DISBURSEMENT"
)

type EntryStatus string

const (
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
)

type CashLedgerEntry struct {
	ID           uuid.UUID   `json:"id"`
	BranchID     uuid.UUID   `json:"branch_id"`
	LoanID       *uuid.UUID  `json:"loan_id,omitempty"`
	Direction    Direction   `json:"direction"`
	Source       EntrySource `json:"source"`
	Amount       int64       `json:"amount"`
	Status       EntryStatus `json:"status"`
	TxDate       time.Time   `json:"tx_date"`
	Note         string      `json:"note,omitempty"`
	PaymentID    *uuid.UUID  `json:"payment_id,omitempty"`
	SettlementID *uuid.UUID  `json:"settlement_id,omitempty"`
	AuctionID    *uuid.UUID  `json:"auction_id,omitempty"`
	ReversalOf   *uuid.UUID  `json:"reversal_of,omitempty"`
	ReversedBy   *uuid.UUID  `json:"reversed_by,omitempty"`
	CreatedBy    uuid.UUID   `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"` // posting timestamp
}

type DecisionType string

const (
	DecisionAuction DecisionType = "AUCTION"
	DecisionHold    DecisionType = "HOLD"
)

type LoanDecision struct {
	ID        uuid.UUID    `json:"id"`
	LoanID    uuid.UUID    `json:"loan_id"`
	Decision  DecisionType `json:"decision"`
	Note      string       `json:"note,omitempty"`
	DecidedBy uuid.UUID    `json:"decided_by"`
	CreatedAt time.Time    `json:"created_at"`
}

type AuctionStatus string

const (
	AuctionListed    AuctionStatus = "LISTED"
	AuctionSold      AuctionStatus = "SOLD"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

type AuctionListing struct {
	ID       uuid.UUID     `json:"id"`
	LoanID   uuid.UUID     `json:"loan_id"`
	BranchID uuid.UUID     `json:"branch_id"`
	Status   AuctionStatus `json:"status"`

	// Frozen at listing time.
	DueDate           time.Time `json:"due_date"`
	DaysUsed          int       `json:"days_used"`
	InterestAmount    int64     `json:"interest_amount"`
	TotalDue          int64     `json:"total_due"`
	Remaining         int64     `json:"remaining"`
	EarlyInterestPaid bool      `json:"early_interest_paid"`

	ListedBy  uuid.UUID  `json:"listed_by"`
	ListedAt  time.Time  `json:"listed_at"`
	ClosedBy  *uuid.UUID `json:"closed_by,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CloseNote string     `json:"close_note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type AuctionSettlement struct {
	ID            uuid.UUID  `json:"id"`
	AuctionID     uuid.UUID  `json:"auction_id"`
	LoanID        uuid.UUID  `json:"loan_id"`
	BranchID      uuid.UUID  `json:"branch_id"`
	GrossAmount   int64      `json:"gross_amount"`
	Fees          int64      `json:"fees"`
	NetAmount     int64      `json:"net_amount"`
	SettledAt     time.Time  `json:"settled_at"`
	Note          string     `json:"note,omitempty"`
	LedgerEntryID *uuid.UUID `json:"ledger_entry_id,omitempty"`
	SettledBy     uuid.UUID  `json:"settled_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

type ContractStatus string

const (
	ContractFinal ContractStatus = "FINAL"
	ContractVoid  ContractStatus = "VOID"
)

type LoanContract struct {
	ID              uuid.UUID       `json:"id"`
	LoanID          uuid.UUID       `json:"loan_id"`
	BranchID        uuid.UUID       `json:"branch_id"`
	Code            string          `json:"code"`
	Status          ContractStatus  `json:"status"`
	TemplateVersion string          `json:"template_version"`
	Snapshot        json.RawMessage `json:"snapshot"`
	SnapshotHash    string          `json:"snapshot_hash"` // hex SHA-256 of Snapshot
	FinalizedBy     uuid.UUID       `json:"finalized_by"`
	FinalizedAt     time.Time       `json:"finalized_at"`
	VoidedBy        *uuid.UUID      `json:"voided_by,omitempty"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
	VoidReason      string          `json:"void_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Records owned by excluded collaborators. Only the fields this core reads.

type Branch struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID        uuid.UUID `json:"id"`
	BranchID  uuid.UUID `json:"branch_id"`
	NIK       string    `json:"nik"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type CollateralItem struct {
	ID             uuid.UUID  `json:"id"`
	BranchID       uuid.UUID  `json:"branch_id"`
	LoanID         *uuid.UUID `json:"loan_id,omitempty"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	EstimatedValue int64      `json:"estimated_value"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RoleAdmin may run administrative overrides such as deleting a loan.
const RoleAdmin = "admin"

// Actor is the authenticated caller, resolved by the auth gateway.
type Actor struct {
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	BranchID uuid.UUID `json:"branch_id"`
	Role     string    `json:"role"`
}

func (a Actor) IsAdmin() bool { return strings.EqualFold(a.Role, RoleAdmin) }
