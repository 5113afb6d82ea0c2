package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// newTestDB starts a Postgres container, applies the migration, and returns
// a connected *sqlx.DB. The container is automatically terminated when the
// test ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Locate migration file relative to this source file.
	_, thisFile, _, _ := runtime.Caller(0)
	migrationDir := filepath.Join(filepath.Dir(thisFile), "migrations")

	migrationSQL, err := os.ReadFile(filepath.Join(migrationDir, "001_initial.sql"))
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auctioncore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Apply migration.
	if _, err := db.ExecContext(ctx, string(migrationSQL)); err != nil {
		t.Fatalf("applying migration: %v", err)
	}

	return db
}

// seedAuction creates a season, two teams, one player and one queued lot,
// returning the ids needed by tests.
func seedAuction(t *testing.T, repos *store.Repositories) (seasonID, teamID, auctionID, lotID string) {
	t.Helper()
	ctx := context.Background()

	seasonID = uuid.NewString()
	if err := repos.Seasons.Create(ctx, &store.Season{
		ID:               seasonID,
		Name:             "Season 2026",
		MaxSquadSize:     20,
		MaxOverseas:      4,
		MinWicketKeepers: 1,
		StartingBudget:   100_000_000,
	}); err != nil {
		t.Fatalf("creating season: %v", err)
	}

	teamID = uuid.NewString()
	if err := repos.Teams.Create(ctx, &store.Team{
		ID:          teamID,
		SeasonID:    seasonID,
		Name:        "Chennai",
		BudgetTotal: 100_000_000,
	}); err != nil {
		t.Fatalf("creating team: %v", err)
	}
	if err := repos.Teams.Create(ctx, &store.Team{
		ID:          uuid.NewString(),
		SeasonID:    seasonID,
		Name:        "Mumbai",
		BudgetTotal: 100_000_000,
	}); err != nil {
		t.Fatalf("creating second team: %v", err)
	}

	playerID := uuid.NewString()
	if err := repos.Players.Create(ctx, &store.Player{
		ID:        playerID,
		SeasonID:  seasonID,
		Name:      "R Sharma",
		Role:      store.RoleBatsman,
		BasePrice: 2_000_000,
	}); err != nil {
		t.Fatalf("creating player: %v", err)
	}

	auctionID = uuid.NewString()
	if err := repos.Auctions.Create(ctx, &store.Auction{
		ID:       auctionID,
		SeasonID: seasonID,
		Name:     "Main Auction",
	}); err != nil {
		t.Fatalf("creating auction: %v", err)
	}

	lotID = uuid.NewString()
	if err := repos.Lots.Create(ctx, &store.Lot{
		ID:        lotID,
		AuctionID: auctionID,
		PlayerID:  playerID,
		LotOrder:  1,
	}); err != nil {
		t.Fatalf("creating lot: %v", err)
	}

	return seasonID, teamID, auctionID, lotID
}
