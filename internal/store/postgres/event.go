package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// EventStore implements event.Store backed by Postgres. The unique
// (auction_id, sequence) index is what makes the log gap-free under a
// split-brain writer: the loser's append fails instead of interleaving.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore returns a new EventStore.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO events (id, auction_id, sequence, type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.AuctionID, e.Sequence, e.Type, e.Data, e.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: auction %s sequence %d", store.ErrDuplicateSequence, e.AuctionID, e.Sequence)
			}
			return fmt.Errorf("inserting event (auction=%s, sequence=%d): %w", e.AuctionID, e.Sequence, err)
		}
	}

	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, auctionID string) ([]event.Event, error) {
	var events []event.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, auction_id, sequence, type, data, created_at
		 FROM events WHERE auction_id = $1 ORDER BY sequence ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *EventStore) LoadSince(ctx context.Context, auctionID string, after int64, limit int) ([]event.Event, error) {
	query := `SELECT id, auction_id, sequence, type, data, created_at
	          FROM events WHERE auction_id = $1 AND sequence > $2 ORDER BY sequence ASC`
	args := []any{auctionID, after}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	var events []event.Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("loading events since %d: %w", after, err)
	}
	return events, nil
}

func (s *EventStore) LoadByType(ctx context.Context, auctionID string, t event.Type) ([]event.Event, error) {
	var events []event.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, auction_id, sequence, type, data, created_at
		 FROM events WHERE auction_id = $1 AND type = $2 ORDER BY sequence ASC`, auctionID, t)
	if err != nil {
		return nil, fmt.Errorf("loading %s events: %w", t, err)
	}
	return events, nil
}

func (s *EventStore) LastSequence(ctx context.Context, auctionID string) (int64, error) {
	var seq int64
	err := s.db.GetContext(ctx, &seq,
		`SELECT sequence FROM events WHERE auction_id = $1 ORDER BY sequence DESC LIMIT 1`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading last sequence: %w", err)
	}
	return seq, nil
}
