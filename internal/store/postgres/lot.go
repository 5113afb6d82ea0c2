package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// LotRepo implements store.LotRepository with sqlx.
type LotRepo struct {
	db *sqlx.DB
}

// NewLotRepo returns a new LotRepo.
func NewLotRepo(db *sqlx.DB) *LotRepo {
	return &LotRepo{db: db}
}

func (r *LotRepo) Create(ctx context.Context, l *store.Lot) error {
	if l.Status == "" {
		l.Status = store.LotQueued
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lots (id, auction_id, player_id, lot_order, status, current_price,
		        ends_at, paused_remaining_ms, winner_team_id, final_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.AuctionID, l.PlayerID, l.LotOrder, l.Status, l.CurrentPrice,
		l.EndsAt, l.PausedRemainingMS, l.WinnerTeamID, l.FinalPrice,
	)
	if err != nil {
		return fmt.Errorf("creating lot: %w", err)
	}
	return nil
}

func (r *LotRepo) GetByID(ctx context.Context, id string) (*store.Lot, error) {
	var l store.Lot
	err := r.db.GetContext(ctx, &l, `SELECT * FROM lots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting lot: %w", err)
	}
	return &l, nil
}

func (r *LotRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Lot, error) {
	var lots []store.Lot
	err := r.db.SelectContext(ctx, &lots,
		`SELECT * FROM lots WHERE auction_id = $1 ORDER BY lot_order ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	return lots, nil
}
