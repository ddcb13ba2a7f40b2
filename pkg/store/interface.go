package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Storage opens transactions. Every read and write goes through a Tx so that
// row locks taken by Lock* calls last until the callback returns. Returning
// an error from fn rolls back every write made through tx.
type Storage interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// LedgerFilter narrows ListLedgerEntries. Zero values are ignored.
type LedgerFilter struct {
	BranchID     uuid.UUID
	LoanID       *uuid.UUID
	SettlementID *uuid.UUID
	Source       models.EntrySource
	From         *time.Time // inclusive, on tx_date
	To           *time.Time // exclusive, on tx_date
}

// Tx defines the database operations available inside a transaction.
type Tx interface {
	CreateBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, id uuid.UUID) (*models.Branch, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	CreateCollateral(ctx context.Context, item *models.CollateralItem) error
	GetCollateral(ctx context.Context, id uuid.UUID) (*models.CollateralItem, error)
	LinkCollateral(ctx context.Context, itemID, loanID uuid.UUID) error
	ListCollateralForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.CollateralItem, error)

	// NextSequence atomically increments the counter for scope and returns
	// the new value. The first call for a scope returns 1.
	NextSequence(ctx context.Context, scope string) (int64, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	SetLoanStatus(ctx context.Context, id uuid.UUID, from, to models.LoanStatus, at time.Time) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	ListLoans(ctx context.Context, branchID uuid.UUID, status models.LoanStatus) ([]*models.Loan, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkPaymentReversed(ctx context.Context, id uuid.UUID, at time.Time, by uuid.UUID, reason string) error
	ListPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)
	CountPaymentsForLoan(ctx context.Context, loanID uuid.UUID) (int, error)

	CreateLedgerEntry(ctx context.Context, e *models.CashLedgerEntry) error
	GetLedgerEntry(ctx context.Context, id uuid.UUID) (*models.CashLedgerEntry, error)
	LockLedgerEntry(ctx context.Context, id uuid.UUID) (*models.CashLedgerEntry, error)
	MarkLedgerEntryReversed(ctx context.Context, id, reversedBy uuid.UUID) error
	ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]*models.CashLedgerEntry, error)

	CreateDecision(ctx context.Context, d *models.LoanDecision) error
	LatestDecision(ctx context.Context, loanID uuid.UUID) (*models.LoanDecision, error)
	ListDecisions(ctx context.Context, loanID uuid.UUID) ([]*models.LoanDecision, error)

	CreateAuction(ctx context.Context, a *models.AuctionListing) error
	UpdateAuction(ctx context.Context, a *models.AuctionListing) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionListing, error)
	LockAuction(ctx context.Context, id uuid.UUID) (*models.AuctionListing, error)
	GetAuctionByLoan(ctx context.Context, loanID uuid.UUID) (*models.AuctionListing, error)
	LockAuctionByLoan(ctx context.Context, loanID uuid.UUID) (*models.AuctionListing, error)
	ListAuctions(ctx context.Context, branchID uuid.UUID, status models.AuctionStatus) ([]*models.AuctionListing, error)

	CreateSettlement(ctx context.Context, s *models.AuctionSettlement) error
	ListSettlementsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*models.AuctionSettlement, error)
	ListSettlementsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.AuctionSettlement, error)

	CreateContract(ctx context.Context, c *models.LoanContract) error
	UpdateContract(ctx context.Context, c *models.LoanContract) error
	GetContract(ctx context.Context, id uuid.UUID) (*models.LoanContract, error)
	LockContract(ctx context.Context, id uuid.UUID) (*models.LoanContract, error)
	FinalContractForLoan(ctx context.Context, loanID uuid.UUID) (*models.LoanContract, error)
	ListContractsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.LoanContract, error)
}
