package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/pawnledger/pkg/apperror"
	"github.com/mcclellann/pawnledger/pkg/events"
	"github.com/mcclellann/pawnledger/pkg/metrics"
	"github.com/mcclellann/pawnledger/pkg/models"
	"github.com/mcclellann/pawnledger/pkg/store"
	"go.uber.org/zap"
)

// RecordDecision appends a HOLD or AUCTION decision to an overdue loan.
// Repeating the latest decision is rejected.
func (l *Ledger) RecordDecision(ctx context.Context, actor models.Actor, loanID uuid.UUID, decision models.DecisionType, note string) (*models.LoanDecision, error) {
	if decision != models.DecisionAuction && decision != models.DecisionHold {
		return nil, l.finish("record_decision", apperror.Validation("decision must be AUCTION or HOLD"))
	}
	now := l.now()

	d := &models.LoanDecision{
		ID:        uuid.New(),
		LoanID:    loanID,
		Decision:  decision,
		Note:      strings.TrimSpace(note),
		DecidedBy: actor.UserID,
		CreatedAt: now,
	}
	var branchID uuid.UUID
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		loan, err := lockOwnedLoan(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		branchID = loan.BranchID
		if _, err := l.SyncStatus(ctx, tx, loan, now); err != nil {
			return err
		}
		if loan.Status == models.LoanStatusClosed {
			return apperror.Conflict("loan is closed")
		}
		if loan.Status != models.LoanStatusOverdue {
			return apperror.Conflict("decisions can only be recorded on overdue loans (status %s)", loan.Status)
		}

		latest, err := tx.LatestDecision(ctx, loanID)
		switch {
		case err == nil && latest.Decision == decision:
			return apperror.Conflict("latest decision is already %s", decision)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		return tx.CreateDecision(ctx, d)
	})
	if err != nil {
		return nil, l.finish("record_decision", err)
	}

	metrics.Decisions.WithLabelValues(string(decision)).Inc()
	l.logger.Info("decision recorded",
		zap.String("loan_id", loanID.String()),
		zap.String("decision", string(decision)))
	l.publish(ctx, events.Event{
		Type: events.DecisionRecorded, LoanID: loanID, BranchID: branchID, RefID: d.ID, ActorID: actor.UserID, At: now,
		Data: map[string]any{"decision": decision},
	})
	return d, nil
}

func (l *Ledger) ListDecisions(ctx context.Context, actor models.Actor, loanID uuid.UUID) ([]*models.LoanDecision, error) {
	var decisions []*models.LoanDecision
	err := l.storage.WithTx(ctx, func(tx store.Tx) error {
		if _, err := getOwnedLoan(ctx, tx, actor, loanID); err != nil {
			return err
		}
		var err error
		decisions, err = tx.ListDecisions(ctx, loanID)
		return err
	})
	if err != nil {
		return nil, l.finish("list_decisions", err)
	}
	if decisions == nil {
		decisions = []*models.LoanDecision{}
	}
	return decisions, nil
}
