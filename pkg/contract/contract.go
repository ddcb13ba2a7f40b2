// Package contract produces the legal pawn contract of a loan: a frozen,
// hashed snapshot of its terms under a sequential per-branch code.
package contract

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/interest"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

const minVoidReasonLength = 5

// StatusSyncer brings a stale loan status up to date inside a transaction.
type StatusSyncer interface {
	SyncStatus(ctx context.Context, tx store.Tx, loan *models.Loan, asOf time.Time) (interest.Result, error)
}

type Finalizer struct {
	storage   store.Storage
	syncer    StatusSyncer
	logger    *zap.Logger
	publisher events.Publisher
	prefix    string
	company   Company
	now       func() time.Time
	loc       *time.Location
}

type Option func(*Finalizer)

func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) { f.now = now }
}

// WithLocation sets the zone contract dates and the code year are read in.
func WithLocation(loc *time.Location) Option {
	return func(f *Finalizer) { f.loc = loc }
}

func WithPublisher(p events.Publisher) Option {
	return func(f *Finalizer) { f.publisher = p }
}

func NewFinalizer(s store.Storage, syncer StatusSyncer, logger *zap.Logger, prefix string, company Company, opts ...Option) *Finalizer {
	f := &Finalizer{
		storage: s,
		syncer:  syncer,
		logger:  logger,
		prefix:  prefix,
		company: company,
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// parties loads what a snapshot needs besides the loan itself.
func parties(ctx context.Context, tx store.Tx, loan *models.Loan) (*models.Branch, *models.Customer, []*models.CollateralItem, error) {
	branch, err := tx.GetBranch(ctx, loan.BranchID)
	if err != nil {
		return nil, nil, nil, missing(err, "branch")
	}
	customer, err := tx.GetCustomer(ctx, loan.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, apperror.Conflict("loan has no customer on record")
	}
	if err != nil {
		return nil, nil, nil, err
	}
	items, err := tx.ListCollateralForLoan(ctx, loan.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, nil, apperror.Conflict("loan has no collateral items")
	}
	return branch, customer, items, nil
}

// Preview builds the contract snapshot without assigning a code or writing
// anything.
func (f *Finalizer) Preview(ctx context.Context, actor models.Actor, loanID uuid.UUID) (*Snapshot, error) {
	var snap *Snapshot
	err := f.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return missing(err, "loan")
		}
		if loan.BranchID != actor.BranchID {
			return apperror.Forbidden("loan belongs to another branch")
		}
		branch, customer, items, err := parties(ctx, tx, loan)
		if err != nil {
			return err
		}
		snap = buildSnapshot(snapshotInput{
			company: f.company, branch: branch, loan: loan, customer: customer,
			collateral: items, cashier: actor.Name, loc: f.loc,
		})
		return nil
	})
	if err != nil {
		return nil, f.finish("preview_contract", err)
	}
	return snap, nil
}

// Finalize freezes the loan's contract under the next code of its branch
// and year. A loan has at most one FINAL contract at a time.
func (f *Finalizer) Finalize(ctx context.Context, actor models.Actor, loanID uuid.UUID) (*models.LoanContract, error) {
	now := f.now()
	var c *models.LoanContract
	err := f.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return missing(err, "loan")
		}
		if loan.BranchID != actor.BranchID {
			return apperror.Forbidden("loan belongs to another branch")
		}
		if _, err := f.syncer.SyncStatus(ctx, tx, loan, now); err != nil {
			return err
		}
		existing, err := tx.FinalContractForLoan(ctx, loanID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil {
			return apperror.Conflict("loan already has contract %s", existing.Code)
		}
		branch, customer, items, err := parties(ctx, tx, loan)
		if err != nil {
			return err
		}

		year := now.In(f.loc).Year()
		seq, err := tx.NextSequence(ctx, sequenceScope(branch.ID, year))
		if err != nil {
			return err
		}
		code := FormatCode(f.prefix, branch.Code, year, seq)
		data, hash, err := Seal(buildSnapshot(snapshotInput{
			company: f.company, code: &code, branch: branch, loan: loan, customer: customer,
			collateral: items, cashier: actor.Name, loc: f.loc,
		}))
		if err != nil {
			return err
		}

		c = &models.LoanContract{
			ID:              uuid.New(),
			LoanID:          loan.ID,
			BranchID:        loan.BranchID,
			Code:            code,
			Status:          models.ContractFinal,
			TemplateVersion: TemplateVersion,
			Snapshot:        data,
			SnapshotHash:    hash,
			FinalizedBy:     actor.UserID,
			FinalizedAt:     now,
			CreatedAt:       now,
		}
		if err := tx.CreateContract(ctx, c); err != nil {
			return err
		}
		loan.ContractFinalizedAt = &now
		loan.UpdatedAt = now
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, f.finish("finalize_contract", err)
	}

	metrics.Contracts.WithLabelValues(string(models.ContractFinal)).Inc()
	f.logger.Info("contract finalized",
		zap.String("loan_id", loanID.String()),
		zap.String("contract_id", c.ID.String()),
		zap.String("code", c.Code))
	events.Notify(ctx, f.publisher, f.logger, events.Event{
		Type: events.ContractFinalized, LoanID: loanID, BranchID: c.BranchID, RefID: c.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"code": c.Code},
	})
	return c, nil
}

// Void retires a FINAL contract. Once any payment has been recorded on the
// loan, reversed or not, the contract can no longer be voided.
func (f *Finalizer) Void(ctx context.Context, actor models.Actor, contractID uuid.UUID, reason string) (*models.LoanContract, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < minVoidReasonLength {
		return nil, f.finish("void_contract", apperror.Validation("reason must be at least %d characters", minVoidReasonLength))
	}
	now := f.now()

	var c *models.LoanContract
	err := f.storage.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return missing(err, "contract")
		}
		if _, err := tx.LockLoan(ctx, current.LoanID); err != nil {
			return missing(err, "loan")
		}
		if c, err = tx.LockContract(ctx, contractID); err != nil {
			return missing(err, "contract")
		}
		if c.BranchID != actor.BranchID {
			return apperror.Forbidden("contract belongs to another branch")
		}
		if c.Status != models.ContractFinal {
			return apperror.Conflict("contract is %s, not FINAL", c.Status)
		}
		n, err := tx.CountPaymentsForLoan(ctx, c.LoanID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.Conflict("contract cannot be voided after payments were recorded")
		}

		c.Status = models.ContractVoid
		c.VoidedBy = &actor.UserID
		c.VoidedAt = &now
		c.VoidReason = reason
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, f.finish("void_contract", err)
	}

	metrics.Contracts.WithLabelValues(string(models.ContractVoid)).Inc()
	f.logger.Info("contract voided",
		zap.String("loan_id", c.LoanID.String()),
		zap.String("contract_id", c.ID.String()),
		zap.String("code", c.Code))
	events.Notify(ctx, f.publisher, f.logger, events.Event{
		Type: events.ContractVoided, LoanID: c.LoanID, BranchID: c.BranchID, RefID: c.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"code": c.Code, "reason": reason},
	})
	return c, nil
}

func (f *Finalizer) Get(ctx context.Context, actor models.Actor, contractID uuid.UUID) (*models.LoanContract, error) {
	var c *models.LoanContract
	err := f.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if c, err = tx.GetContract(ctx, contractID); err != nil {
			return missing(err, "contract")
		}
		if c.BranchID != actor.BranchID {
			return apperror.Forbidden("contract belongs to another branch")
		}
		return nil
	})
	if err != nil {
		return nil, f.finish("get_contract", err)
	}
	return c, nil
}

func missing(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFound(what)
	}
	return err
}

func (f *Finalizer) finish(op string, err error) error {
	metrics.OperationErrors.WithLabelValues(op, apperror.Label(err)).Inc()
	if apperror.Kind(err) == nil {
		f.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}
