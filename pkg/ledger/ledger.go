// Package ledger is the loan lifecycle engine: loan creation, payments and
// their reversal, overdue decisions, auctions and their settlement, and the
// branch cash ledger every money movement is written to.
package ledger

import (
	"context"
	"errors"
	"fmt"
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

const (
	minReasonLength = 5
	minNoteLength   = 3
)

// Ledger handles the business logic for loans and their cash movements.
type Ledger struct {
	storage   store.Storage
	logger    *zap.Logger
	publisher events.Publisher
	now       func() time.Time
	loc       *time.Location
}

type Option func(*Ledger)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the business time zone calendar days are counted in.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		logger:  logger,
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// obligation evaluates the loan on asOf in the business time zone.
func (l *Ledger) obligation(loan *models.Loan, asOf time.Time) (interest.Result, error) {
	return interest.Calculate(loan.Principal, loan.StartDate.In(l.loc), asOf.In(l.loc))
}

// calendarDate is t's date in the business time zone, as midnight UTC.
func (l *Ledger) calendarDate(t time.Time) time.Time {
	y, m, d := t.In(l.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextStatus is the status a loan should carry given its current status and
// a freshly computed obligation. LUNAS and CLOSED are never recomputed.
func NextStatus(current models.LoanStatus, res interest.Result) models.LoanStatus {
	if current.Terminal() {
		return current
	}
	return res.Status
}

// SyncStatus recomputes the obligation on asOf and persists a status change
// if the stored status went stale. The write only lands if the stored status
// still matches the loan's; otherwise the loan is reloaded under lock and
// recomputed once.
func (l *Ledger) SyncStatus(ctx context.Context, tx store.Tx, loan *models.Loan, asOf time.Time) (interest.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := l.obligation(loan, asOf)
		if err != nil {
			return res, err
		}
		next := NextStatus(loan.Status, res)
		if next == loan.Status {
			return res, nil
		}
		now := l.now()
		err = tx.SetLoanStatus(ctx, loan.ID, loan.Status, next, now)
		if err == nil {
			l.logger.Info("loan status synced",
				zap.String("loan_id", loan.ID.String()),
				zap.String("from", string(loan.Status)),
				zap.String("to", string(next)))
			loan.Status = next
			loan.UpdatedAt = now
			return res, nil
		}
		if !errors.Is(err, store.ErrNotFound) || attempt > 0 {
			return res, fmt.Errorf("failed to sync loan status: %w", err)
		}
		fresh, err := tx.LockLoan(ctx, loan.ID)
		if err != nil {
			return res, fmt.Errorf("failed to reload loan: %w", err)
		}
		*loan = *fresh
	}
}

// freeze marks the loan LUNAS and stores the terms it was paid off under.
func freeze(loan *models.Loan, res interest.Result, at, now time.Time) {
	days, rate := res.DaysUsed, res.Rate
	interestAmount, totalDue := res.InterestAmount, res.TotalDue
	loan.Status = models.LoanStatusLunas
	loan.PaidOffAt = &at
	loan.FinalDaysUsed = &days
	loan.FinalRate = &rate
	loan.FinalInterest = &interestAmount
	loan.FinalTotalDue = &totalDue
	loan.UpdatedAt = now
}

// paidTotals is what non-reversed payments have covered so far.
type paidTotals struct {
	Interest  int64
	Principal int64
}

func (p paidTotals) Total() int64 { return p.Interest + p.Principal }

func sumPaid(payments []*models.Payment) paidTotals {
	var p paidTotals
	for _, pay := range payments {
		if pay.Reversed() {
			continue
		}
		p.Interest += pay.InterestPortion
		p.Principal += pay.PrincipalPortion
	}
	return p
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// lockOwnedLoan locks the loan and checks it belongs to the caller's branch.
func lockOwnedLoan(ctx context.Context, tx store.Tx, actor models.Actor, id uuid.UUID) (*models.Loan, error) {
	loan, err := tx.LockLoan(ctx, id)
	if err != nil {
		return nil, missing(err, "loan")
	}
	if loan.BranchID != actor.BranchID {
		return nil, apperror.Forbidden("loan %s belongs to another branch", id)
	}
	return loan, nil
}

func getOwnedLoan(ctx context.Context, tx store.Tx, actor models.Actor, id uuid.UUID) (*models.Loan, error) {
	loan, err := tx.GetLoan(ctx, id)
	if err != nil {
		return nil, missing(err, "loan")
	}
	if loan.BranchID != actor.BranchID {
		return nil, apperror.Forbidden("loan %s belongs to another branch", id)
	}
	return loan, nil
}

// missing turns a store miss into a user-facing not-found error.
func missing(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NotFound(what)
	}
	return err
}

func validateReason(reason string) error {
	if utf8.RuneCountInString(reason) < minReasonLength {
		return apperror.Validation("reason must be at least %d characters", minReasonLength)
	}
	return nil
}

// finish records a failed operation. Caller errors are counted; anything
// else is also logged.
func (l *Ledger) finish(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.OperationErrors.WithLabelValues(op, apperror.Label(err)).Inc()
	if apperror.Kind(err) == nil {
		l.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (l *Ledger) publish(ctx context.Context, evt events.Event) {
	events.Notify(ctx, l.publisher, l.logger, evt)
}
