package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// ApplyRefund credits part of a team's spent budget back. Spent budget only
// ever decreases through this path; a refund row lands in the audit trail in
// the same transaction as the decrement. Refunds do not touch the roster or
// the event log.
func (e *Engine) ApplyRefund(ctx context.Context, auctionID, teamID string, amount int64) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ApplyRefund",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("team_id", teamID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
	}

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.teams[teamID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	if amount > ts.team.BudgetSpent {
		return fmt.Errorf("%w: refund %d exceeds spent budget %d", ErrInvalidInput, amount, ts.team.BudgetSpent)
	}

	now := e.clock.Now()
	bt := store.BudgetTransaction{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		AuctionID: auctionID,
		Amount:    amount,
		Kind:      store.BudgetRefund,
		CreatedAt: now,
	}

	err = e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.InsertBudgetTransaction(ctx, &bt); txErr != nil {
			return txErr
		}
		return tx.UpdateTeamSpent(ctx, teamID, -amount)
	})
	if err != nil {
		return e.storeErr("applying refund", err)
	}

	ts.team.BudgetSpent -= amount
	ts.team.UpdatedAt = now

	e.logger.InfoContext(ctx, "refund applied",
		slog.String("auction_id", auctionID),
		slog.String("team_id", teamID),
		slog.Int64("amount", amount),
	)
	return nil
}
