package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

type PaymentInput struct {
	LoanID uuid.UUID `json:"loan_id"`
	Amount int64     `json:"amount"`
	PaidAt time.Time `json:"paid_at"` // zero means now
	Note   string    `json:"note"`
}

// PaymentResult is a recorded payment and the loan state it left behind.
type PaymentResult struct {
	Payment     *models.Payment         `json:"payment"`
	LedgerEntry *models.CashLedgerEntry `json:"ledger_entry"`
	LoanStatus  models.LoanStatus       `json:"loan_status"`
	Remaining   int64                   `json:"remaining"`
}

// Allocate splits amount into the interest still owed first and principal
// with whatever is left.
func Allocate(amount, remainingInterest int64) (interestPortion, principalPortion int64) {
	interestPortion = min(amount, nonNegative(remainingInterest))
	return interestPortion, amount - interestPortion
}

// RecordPayment books a customer payment against a loan. The payment, its
// cash ledger entry and a payoff of the loan are written together or not at
// all. Overpayment is rejected, never capped.
func (l *Ledger) RecordPayment(ctx context.Context, actor models.Actor, in PaymentInput) (*PaymentResult, error) {
	if in.Amount <= 0 {
		return nil, l.finish("record_payment", apperror.Validation("amount must be greater than 0"))
	}
	now := l.now()
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	if l.calendarDate(paidAt).After(l.calendarDate(now)) {
		return nil, l.finish("record_payment", apperror.Validation("payment date cannot be in the future"))
	}

	var result *PaymentResult
	var redundant bool
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := lockOwnedLoan(ctx, tx, actor, in.LoanID)
		if err != nil {
			return err
		}
		switch loan.Status {
		case models.LoanStatusClosed:
			return apperror.Conflict("loan is closed")
		case models.LoanStatusLunas:
			return apperror.Conflict("loan is already paid off")
		}
		if l.calendarDate(paidAt).Before(l.calendarDate(loan.StartDate)) {
			return apperror.Validation("payment date %s is before the loan start date %s",
				paidAt.In(l.loc).Format(time.DateOnly), loan.StartDate.In(l.loc).Format(time.DateOnly))
		}

		// Status follows today; the payment is priced on its own date.
		if _, err := l.SyncStatus(ctx, tx, loan, now); err != nil {
			return err
		}
		res, err := l.obligation(loan, paidAt)
		if err != nil {
			return err
		}
		payments, err := tx.ListPaymentsForLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		paid := sumPaid(payments)
		remaining := nonNegative(res.TotalDue - paid.Total())
		if remaining <= 0 {
			// Fully covered without having been marked LUNAS: finalize now
			// and commit, then reject the payment.
			freeze(loan, res, paidAt, now)
			redundant = true
			return tx.UpdateLoan(ctx, loan)
		}
		if in.Amount > remaining {
			return apperror.Validation("amount %d exceeds remaining balance %d", in.Amount, remaining)
		}

		interestPortion, principalPortion := Allocate(in.Amount, res.InterestAmount-paid.Interest)
		paymentID, entryID := uuid.New(), uuid.New()
		payment := &models.Payment{
			ID:               paymentID,
			LoanID:           loan.ID,
			BranchID:         loan.BranchID,
			Amount:           in.Amount,
			PaidAt:           paidAt,
			InterestPortion:  interestPortion,
			PrincipalPortion: principalPortion,
			Note:             in.Note,
			RecordedBy:       actor.UserID,
			LedgerEntryID:    &entryID,
			DaysUsed:         res.DaysUsed,
			Rate:             res.Rate,
			InterestAmount:   res.InterestAmount,
			TotalDue:         res.TotalDue,
			CreatedAt:        now,
		}
		entry := &models.CashLedgerEntry{
			ID:        entryID,
			BranchID:  loan.BranchID,
			LoanID:    &loan.ID,
			Direction: models.DirectionIn,
			Source:    models.SourcePayment,
			Amount:    in.Amount,
			Status:    models.EntryStatusPosted,
			TxDate:    paidAt,
			Note:      in.Note,
			PaymentID: &paymentID,
			CreatedBy: actor.UserID,
			CreatedAt: now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
			return err
		}

		if paid.Total()+in.Amount >= res.TotalDue {
			freeze(loan, res, paidAt, now)
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
		}
		result = &PaymentResult{
			Payment:     payment,
			LedgerEntry: entry,
			LoanStatus:  loan.Status,
			Remaining:   remaining - in.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, l.finish("record_payment", err)
	}
	if redundant {
		l.logger.Warn("loan already covered, finalized as paid off",
			zap.String("loan_id", in.LoanID.String()))
		metrics.LoansPaidOff.Inc()
		return nil, l.finish("record_payment", apperror.Conflict("loan is already fully paid"))
	}

	p := result.Payment
	metrics.PaymentsRecorded.Inc()
	metrics.PaymentAmount.Add(float64(p.Amount))
	metrics.LedgerEntries.WithLabelValues(string(models.SourcePayment), string(models.DirectionIn)).Inc()
	l.logger.Info("payment recorded",
		zap.String("loan_id", p.LoanID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.Int64("amount", p.Amount),
		zap.Int64("interest_portion", p.InterestPortion),
		zap.Int64("principal_portion", p.PrincipalPortion))

	l.publish(ctx, events.Event{
		Type: events.PaymentRecorded, LoanID: p.LoanID, BranchID: p.BranchID, RefID: p.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"amount": p.Amount, "remaining": result.Remaining},
	})
	if result.LoanStatus == models.LoanStatusLunas {
		metrics.LoansPaidOff.Inc()
		l.publish(ctx, events.Event{
			Type: events.LoanPaidOff, LoanID: p.LoanID, BranchID: p.BranchID, RefID: p.LoanID, ActorID: actor.UserID, At: now,
		})
	}
	return result, nil
}
