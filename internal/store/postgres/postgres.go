// Package postgres is the production store driver, backed by lib/pq through
// sqlx with OTEL instrumentation.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/arjunsheth/auctioncore/internal/clock"
	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(db), nil
	})
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// New assembles Repositories over an open connection.
func New(db *sqlx.DB) *store.Repositories {
	return &store.Repositories{
		Seasons:  NewSeasonRepo(db),
		Teams:    NewTeamRepo(db),
		Players:  NewPlayerRepo(db),
		Auctions: NewAuctionRepo(db),
		Lots:     NewLotRepo(db),
		Bids:     NewBidRepo(db),
		Rosters:  NewRosterRepo(db),
		Budget:   NewBudgetRepo(db),
		Events:   NewEventStore(db),
		InTx: func(ctx context.Context, fn func(tx store.Tx) error) error {
			tx, err := db.BeginTxx(ctx, nil)
			if err != nil {
				return fmt.Errorf("beginning transaction: %w", err)
			}
			defer func() { _ = tx.Rollback() }()
			if err := fn(&pgTx{tx: tx}); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("committing transaction: %w", err)
			}
			return nil
		},
		Close: db.Close,
		Ping:  db.PingContext,
	}
}

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
