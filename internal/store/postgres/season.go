package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// SeasonRepo implements store.SeasonRepository with sqlx.
type SeasonRepo struct {
	db *sqlx.DB
}

// NewSeasonRepo returns a new SeasonRepo.
func NewSeasonRepo(db *sqlx.DB) *SeasonRepo {
	return &SeasonRepo{db: db}
}

func (r *SeasonRepo) Create(ctx context.Context, s *store.Season) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO seasons (id, name, max_squad_size, max_overseas, min_wicket_keepers, starting_budget, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Name, s.MaxSquadSize, s.MaxOverseas, s.MinWicketKeepers, s.StartingBudget, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating season: %w", err)
	}
	return nil
}

func (r *SeasonRepo) GetByID(ctx context.Context, id string) (*store.Season, error) {
	var s store.Season
	err := r.db.GetContext(ctx, &s, `SELECT * FROM seasons WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting season: %w", err)
	}
	return &s, nil
}
