package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// RosterRepo implements store.RosterRepository with sqlx.
type RosterRepo struct {
	db *sqlx.DB
}

// NewRosterRepo returns a new RosterRepo.
func NewRosterRepo(db *sqlx.DB) *RosterRepo {
	return &RosterRepo{db: db}
}

func (r *RosterRepo) ListByTeam(ctx context.Context, teamID string) ([]store.RosterEntry, error) {
	var entries []store.RosterEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM roster_entries WHERE team_id = $1 ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing roster entries: %w", err)
	}
	return entries, nil
}
