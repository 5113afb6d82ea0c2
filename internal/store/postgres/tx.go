package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// pgTx implements store.Tx over a single sqlx transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *store.Auction) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET status = $1, current_lot_id = $2, settings = $3, updated_at = $4
		 WHERE id = $5`,
		a.Status, a.CurrentLotID, a.Settings, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found", a.ID)
	}
	return nil
}

func (t *pgTx) UpdateLot(ctx context.Context, l *store.Lot) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE lots SET status = $1, current_price = $2, ends_at = $3,
		        paused_remaining_ms = $4, winner_team_id = $5, final_price = $6
		 WHERE id = $7`,
		l.Status, l.CurrentPrice, l.EndsAt, l.PausedRemainingMS, l.WinnerTeamID, l.FinalPrice, l.ID,
	)
	if err != nil {
		return fmt.Errorf("updating lot: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("lot %s not found", l.ID)
	}
	return nil
}

func (t *pgTx) InsertBid(ctx context.Context, b *store.Bid) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bids (id, lot_id, team_id, amount, placed_at, valid, placed_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.LotID, b.TeamID, b.Amount, b.PlacedAt, b.Valid, b.PlacedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRosterEntry(ctx context.Context, r *store.RosterEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO roster_entries (id, team_id, player_id, price, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.TeamID, r.PlayerID, r.Price, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("player %s already on roster of team %s: %w", r.PlayerID, r.TeamID, err)
		}
		return fmt.Errorf("inserting roster entry: %w", err)
	}
	return nil
}

func (t *pgTx) InsertBudgetTransaction(ctx context.Context, bt *store.BudgetTransaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO budget_transactions (id, team_id, auction_id, lot_id, amount, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bt.ID, bt.TeamID, bt.AuctionID, bt.LotID, bt.Amount, bt.Kind, bt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting budget transaction: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTeamSpent(ctx context.Context, teamID string, delta int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE teams SET budget_spent = budget_spent + $1, updated_at = now() WHERE id = $2`,
		delta, teamID,
	)
	if err != nil {
		return fmt.Errorf("updating team spend: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("team %s not found", teamID)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO events (id, auction_id, sequence, type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AuctionID, e.Sequence, e.Type, e.Data, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: auction %s sequence %d", store.ErrDuplicateSequence, e.AuctionID, e.Sequence)
		}
		return fmt.Errorf("inserting event (auction=%s, sequence=%d): %w", e.AuctionID, e.Sequence, err)
	}
	return nil
}
