package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// BudgetRepo implements store.BudgetRepository with sqlx.
type BudgetRepo struct {
	db *sqlx.DB
}

// NewBudgetRepo returns a new BudgetRepo.
func NewBudgetRepo(db *sqlx.DB) *BudgetRepo {
	return &BudgetRepo{db: db}
}

func (r *BudgetRepo) ListByTeam(ctx context.Context, teamID string) ([]store.BudgetTransaction, error) {
	var txns []store.BudgetTransaction
	err := r.db.SelectContext(ctx, &txns,
		`SELECT * FROM budget_transactions WHERE team_id = $1 ORDER BY created_at ASC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("listing budget transactions: %w", err)
	}
	return txns, nil
}
