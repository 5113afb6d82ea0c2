package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunsheth/auctioncore/internal/clock"
	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// lotState is the in-memory projection of one lot.
type lotState struct {
	lot            store.Lot
	player         store.Player
	bids           []store.Bid // valid bids in placement order
	extensionsUsed int
}

func (ls *lotState) lastBid() *store.Bid {
	if len(ls.bids) == 0 {
		return nil
	}
	return &ls.bids[len(ls.bids)-1]
}

func (ls *lotState) currentPrice() int64 {
	if ls.lot.CurrentPrice != nil {
		return *ls.lot.CurrentPrice
	}
	return ls.player.BasePrice
}

// teamState is the in-memory projection of one team's budget and roster
// composition.
type teamState struct {
	team          store.Team
	squadSize     int
	overseas      int
	wicketKeepers int
}

// runner owns a single auction; its mutex is the auction's serialization
// token. Every state transition, sequence allocation and persistence commit
// happens with the mutex held, so they appear atomic to all observers.
type runner struct {
	mu sync.Mutex

	auction  store.Auction
	season   store.Season
	settings config.AuctionSettings
	schedule Schedule

	lots     []*lotState // ascending lot order
	lotsByID map[string]*lotState
	teams    map[string]*teamState

	lastSeq int64

	lotTimer clock.Timer
	gapTimer clock.Timer
	// pausedRemaining is the countdown captured when the auction paused
	// with a lot in progress.
	pausedRemaining time.Duration
	// gapPending marks a pause taken between lots, so resume reschedules
	// the advance to the next lot.
	gapPending bool
}

// currentLot returns the lot the auction pointer designates, or nil.
func (r *runner) currentLot() *lotState {
	if r.auction.CurrentLotID == nil {
		return nil
	}
	return r.lotsByID[*r.auction.CurrentLotID]
}

// nextQueued returns the lowest-order QUEUED lot, or nil.
func (r *runner) nextQueued() *lotState {
	for _, ls := range r.lots {
		if ls.lot.Status == store.LotQueued {
			return ls
		}
	}
	return nil
}

// queuedWicketKeepers counts wicket-keepers still waiting in the queue.
func (r *runner) queuedWicketKeepers() int {
	n := 0
	for _, ls := range r.lots {
		if ls.lot.Status == store.LotQueued && ls.player.Role == store.RoleWicketKeeper {
			n++
		}
	}
	return n
}

// makeEvent builds the event at lastSeq+offset. The caller advances lastSeq
// only after the persistence transaction commits.
func (r *runner) makeEvent(offset int64, t event.Type, payload any, now time.Time) event.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain data structs; failing to encode one is a bug.
		panic(fmt.Sprintf("encoding %s payload: %v", t, err))
	}
	return event.Event{
		ID:        uuid.NewString(),
		AuctionID: r.auction.ID,
		Sequence:  r.lastSeq + offset,
		Type:      t,
		Data:      data,
		CreatedAt: now,
	}
}

func (r *runner) stopLotTimer() {
	if r.lotTimer != nil {
		r.lotTimer.Stop()
		r.lotTimer = nil
	}
}

func (r *runner) stopGapTimer() {
	if r.gapTimer != nil {
		r.gapTimer.Stop()
		r.gapTimer = nil
	}
}

// Snapshot is the projected state handed to readers, consistent at
// ObservedSequence.
type Snapshot struct {
	AuctionID        string            `json:"auction_id"`
	AuctionStatus    store.AuctionStatus `json:"auction_status"`
	CurrentLot       *LotSnapshot      `json:"current_lot,omitempty"`
	TeamBudgets      []TeamBudget      `json:"team_budgets"`
	ObservedSequence int64             `json:"observed_sequence"`
}

// LotSnapshot is the live view of the lot under the hammer.
type LotSnapshot struct {
	LotID          string          `json:"lot_id"`
	PlayerID       string          `json:"player_id"`
	PlayerName     string          `json:"player"`
	Status         store.LotStatus `json:"status"`
	CurrentPrice   int64           `json:"current_price"`
	EndsAt         *time.Time      `json:"ends_at,omitempty"`
	ExtensionsUsed int             `json:"extensions_used"`
	TopBids        []BidView       `json:"top_bids"`
}

// BidView is a read-only projection of a bid.
type BidView struct {
	BidID    string    `json:"bid_id"`
	TeamID   string    `json:"team_id"`
	Amount   int64     `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// TeamBudget is a read-only projection of a team's budget.
type TeamBudget struct {
	TeamID      string `json:"team_id"`
	Name        string `json:"name"`
	BudgetTotal int64  `json:"budget_total"`
	BudgetSpent int64  `json:"budget_spent"`
}

// snapshotTopBids caps the bids included in a snapshot.
const snapshotTopBids = 5

// snapshotLocked copies the projected state. Caller holds r.mu.
func (r *runner) snapshotLocked() Snapshot {
	snap := Snapshot{
		AuctionID:        r.auction.ID,
		AuctionStatus:    r.auction.Status,
		ObservedSequence: r.lastSeq,
	}
	if ls := r.currentLot(); ls != nil {
		lotSnap := &LotSnapshot{
			LotID:          ls.lot.ID,
			PlayerID:       ls.player.ID,
			PlayerName:     ls.player.Name,
			Status:         ls.lot.Status,
			CurrentPrice:   ls.currentPrice(),
			ExtensionsUsed: ls.extensionsUsed,
		}
		if ls.lot.EndsAt != nil {
			t := *ls.lot.EndsAt
			lotSnap.EndsAt = &t
		}
		start := len(ls.bids) - snapshotTopBids
		if start < 0 {
			start = 0
		}
		for _, b := range ls.bids[start:] {
			lotSnap.TopBids = append(lotSnap.TopBids, BidView{
				BidID:    b.ID,
				TeamID:   b.TeamID,
				Amount:   b.Amount,
				PlacedAt: b.PlacedAt,
			})
		}
		snap.CurrentLot = lotSnap
	}
	for _, ts := range r.teams {
		snap.TeamBudgets = append(snap.TeamBudgets, TeamBudget{
			TeamID:      ts.team.ID,
			Name:        ts.team.Name,
			BudgetTotal: ts.team.BudgetTotal,
			BudgetSpent: ts.team.BudgetSpent,
		})
	}
	return snap
}

// BidReceipt reports an accepted bid.
type BidReceipt struct {
	BidID     string     `json:"bid_id"`
	NewPrice  int64      `json:"new_price"`
	Sequence  int64      `json:"sequence"`
	Extended  bool       `json:"extended"`
	NewEndsAt *time.Time `json:"new_ends_at,omitempty"`
}
