// Package store defines the persisted records of the auction core and the
// repository interfaces the engine consumes. Drivers register themselves by
// name (see provider.go); the engine never depends on a concrete database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arjunsheth/auctioncore/internal/event"
)

// ErrDuplicateSequence is returned by drivers when an event append collides
// with an already-persisted (auction_id, sequence) pair. It indicates a
// second writer for the same auction.
var ErrDuplicateSequence = errors.New("store: duplicate event sequence")

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionNotStarted AuctionStatus = "NOT_STARTED"
	AuctionInProgress AuctionStatus = "IN_PROGRESS"
	AuctionPaused     AuctionStatus = "PAUSED"
	AuctionCompleted  AuctionStatus = "COMPLETED"
)

// auctionTransitions is the legal transition table. COMPLETED is terminal.
var auctionTransitions = map[AuctionStatus][]AuctionStatus{
	AuctionNotStarted: {AuctionInProgress},
	AuctionInProgress: {AuctionPaused, AuctionCompleted},
	AuctionPaused:     {AuctionInProgress, AuctionCompleted},
	AuctionCompleted:  {},
}

// CanTransition reports whether from -> to is a legal auction transition.
func (from AuctionStatus) CanTransition(to AuctionStatus) bool {
	for _, s := range auctionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotQueued     LotStatus = "QUEUED"
	LotInProgress LotStatus = "IN_PROGRESS"
	LotPaused     LotStatus = "PAUSED"
	LotSold       LotStatus = "SOLD"
	LotUnsold     LotStatus = "UNSOLD"
)

// lotTransitions is the legal transition table. SOLD and UNSOLD are terminal.
var lotTransitions = map[LotStatus][]LotStatus{
	LotQueued:     {LotInProgress, LotUnsold},
	LotInProgress: {LotPaused, LotSold, LotUnsold},
	LotPaused:     {LotInProgress, LotSold, LotUnsold},
	LotSold:       {},
	LotUnsold:     {},
}

// CanTransition reports whether from -> to is a legal lot transition.
func (from LotStatus) CanTransition(to LotStatus) bool {
	for _, s := range lotTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PlayerRole classifies a player for roster-cap checks.
type PlayerRole string

const (
	RoleBatsman      PlayerRole = "BATSMAN"
	RoleBowler       PlayerRole = "BOWLER"
	RoleAllRounder   PlayerRole = "ALL_ROUNDER"
	RoleWicketKeeper PlayerRole = "WICKET_KEEPER"
)

// Season holds the immutable configuration an auction runs under.
type Season struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	MaxSquadSize     int       `db:"max_squad_size"`
	MaxOverseas      int       `db:"max_overseas"`
	MinWicketKeepers int       `db:"min_wicket_keepers"`
	StartingBudget   int64     `db:"starting_budget"`
	CreatedAt        time.Time `db:"created_at"`
}

// Team is a bidding franchise. BudgetSpent only grows during an auction;
// the sole decrement path is an administrative refund.
type Team struct {
	ID          string    `db:"id"`
	SeasonID    string    `db:"season_id"`
	Name        string    `db:"name"`
	BudgetTotal int64     `db:"budget_total"`
	BudgetSpent int64     `db:"budget_spent"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Remaining returns the budget still available to the team.
func (t *Team) Remaining() int64 { return t.BudgetTotal - t.BudgetSpent }

// Player is an auctionable cricketer.
type Player struct {
	ID         string     `db:"id"`
	SeasonID   string     `db:"season_id"`
	Name       string     `db:"name"`
	Role       PlayerRole `db:"role"`
	IsOverseas bool       `db:"is_overseas"`
	BasePrice  int64      `db:"base_price"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Auction is one run of a season's sealed pool. Settings is the JSON blob
// decoded by config.AuctionSettings.
type Auction struct {
	ID           string        `db:"id"`
	SeasonID     string        `db:"season_id"`
	Name         string        `db:"name"`
	Status       AuctionStatus `db:"status"`
	CurrentLotID *string       `db:"current_lot_id"`
	Settings     []byte        `db:"settings"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// Lot offers one player at one moment. LotOrder is immutable and strictly
// increasing within an auction.
type Lot struct {
	ID           string     `db:"id"`
	AuctionID    string     `db:"auction_id"`
	PlayerID     string     `db:"player_id"`
	LotOrder     int        `db:"lot_order"`
	Status       LotStatus  `db:"status"`
	CurrentPrice *int64     `db:"current_price"`
	EndsAt       *time.Time `db:"ends_at"`
	// PausedRemainingMS captures the countdown left when the lot was
	// paused, so a restart can resume with the same remaining time.
	PausedRemainingMS *int64  `db:"paused_remaining_ms"`
	WinnerTeamID      *string `db:"winner_team_id"`
	FinalPrice        *int64  `db:"final_price"`
}

// Bid is a single admitted (or invalidated) bid on a lot.
type Bid struct {
	ID       string    `db:"id"`
	LotID    string    `db:"lot_id"`
	TeamID   string    `db:"team_id"`
	Amount   int64     `db:"amount"`
	PlacedAt time.Time `db:"placed_at"`
	Valid    bool      `db:"valid"`
	PlacedBy *string   `db:"placed_by"`
}

// RosterEntry records an acquired player. Unique per (team, player).
type RosterEntry struct {
	ID        string    `db:"id"`
	TeamID    string    `db:"team_id"`
	PlayerID  string    `db:"player_id"`
	Price     int64     `db:"price"`
	CreatedAt time.Time `db:"created_at"`
}

// Budget transaction kinds.
const (
	BudgetDebit  = "debit"
	BudgetRefund = "refund"
)

// BudgetTransaction is the audit trail for every budget movement.
type BudgetTransaction struct {
	ID        string    `db:"id"`
	TeamID    string    `db:"team_id"`
	AuctionID string    `db:"auction_id"`
	LotID     *string   `db:"lot_id"`
	Amount    int64     `db:"amount"`
	Kind      string    `db:"kind"` // BudgetDebit or BudgetRefund
	CreatedAt time.Time `db:"created_at"`
}

// SeasonRepository defines season persistence operations.
type SeasonRepository interface {
	Create(ctx context.Context, s *Season) error
	GetByID(ctx context.Context, id string) (*Season, error)
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	Create(ctx context.Context, t *Team) error
	GetByID(ctx context.Context, id string) (*Team, error)
	ListBySeason(ctx context.Context, seasonID string) ([]Team, error)
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	GetByID(ctx context.Context, id string) (*Player, error)
	ListBySeason(ctx context.Context, seasonID string) ([]Player, error)
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	ListByStatus(ctx context.Context, statuses ...AuctionStatus) ([]Auction, error)
}

// LotRepository defines lot persistence operations.
type LotRepository interface {
	Create(ctx context.Context, l *Lot) error
	GetByID(ctx context.Context, id string) (*Lot, error)
	ListByAuction(ctx context.Context, auctionID string) ([]Lot, error)
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	ListByLot(ctx context.Context, lotID string) ([]Bid, error)
}

// RosterRepository defines roster persistence operations.
type RosterRepository interface {
	ListByTeam(ctx context.Context, teamID string) ([]RosterEntry, error)
}

// BudgetRepository defines budget transaction reads.
type BudgetRepository interface {
	ListByTeam(ctx context.Context, teamID string) ([]BudgetTransaction, error)
}

// Tx groups the write operations that must commit atomically. The engine
// serializes per auction, so read-committed isolation underneath suffices.
type Tx interface {
	UpdateAuction(ctx context.Context, a *Auction) error
	UpdateLot(ctx context.Context, l *Lot) error
	InsertBid(ctx context.Context, b *Bid) error
	InsertRosterEntry(ctx context.Context, r *RosterEntry) error
	InsertBudgetTransaction(ctx context.Context, bt *BudgetTransaction) error
	UpdateTeamSpent(ctx context.Context, teamID string, delta int64) error
	AppendEvent(ctx context.Context, e *event.Event) error
}

// Repositories groups all repository implementations returned by a driver.
type Repositories struct {
	Seasons  SeasonRepository
	Teams    TeamRepository
	Players  PlayerRepository
	Auctions AuctionRepository
	Lots     LotRepository
	Bids     BidRepository
	Rosters  RosterRepository
	Budget   BudgetRepository
	Events   event.Store

	// InTx runs fn against transactional write repositories; the whole
	// body commits or rolls back as one unit.
	InTx func(ctx context.Context, fn func(tx Tx) error) error
	// Close releases underlying resources (e.g. the DB connection pool).
	Close func() error
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
