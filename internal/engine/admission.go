package engine

import (
	"time"

	"github.com/arjunsheth/auctioncore/internal/store"
)

// admitBid evaluates the admission predicate against the serialized state.
// Caller holds r.mu, so there is no window between check and accept. The
// first failing clause wins.
func (r *runner) admitBid(now time.Time, lotID, teamID string, amount int64) (*lotState, *teamState, error) {
	if r.auction.Status != store.AuctionInProgress {
		return nil, nil, ErrAuctionNotRunning
	}

	ls, ok := r.lotsByID[lotID]
	if !ok {
		return nil, nil, ErrLotNotFound
	}
	cur := r.currentLot()
	if cur == nil || cur.lot.ID != lotID || ls.lot.Status != store.LotInProgress {
		return nil, nil, ErrLotNotActive
	}

	// A bid arriving at or after the deadline loses the timer race.
	if ls.lot.EndsAt == nil || !now.Before(*ls.lot.EndsAt) {
		return nil, nil, ErrLotClosed
	}

	ts, ok := r.teams[teamID]
	if !ok {
		return nil, nil, ErrTeamNotFound
	}

	if last := ls.lastBid(); last != nil && last.TeamID == teamID {
		return nil, nil, ErrAlreadyLeading
	}

	if min := r.schedule.MinNextBid(ls.currentPrice()); amount < min {
		return nil, nil, &BelowIncrementError{MinNext: min}
	}

	if ts.team.BudgetSpent+amount > ts.team.BudgetTotal {
		return nil, nil, &InsufficientBudgetError{Remaining: ts.team.Remaining()}
	}

	if ts.squadSize >= r.season.MaxSquadSize {
		return nil, nil, ErrSquadFull
	}

	if err := r.checkRosterConstraints(ls, ts); err != nil {
		return nil, nil, err
	}

	return ls, ts, nil
}

// checkRosterConstraints applies the conservative role-cap checks: the
// candidate must not push the team over an overseas maximum, and acquiring
// a non-keeper must leave enough squad slots and enough queued keepers for
// the wicket-keeper minimum to stay reachable.
func (r *runner) checkRosterConstraints(ls *lotState, ts *teamState) error {
	if ls.player.IsOverseas && ts.overseas >= r.season.MaxOverseas {
		return ErrRosterConstraint
	}

	need := r.season.MinWicketKeepers - ts.wicketKeepers
	if need <= 0 || ls.player.Role == store.RoleWicketKeeper {
		return nil
	}
	slotsAfter := r.season.MaxSquadSize - ts.squadSize - 1
	if need > slotsAfter {
		return ErrRosterConstraint
	}
	if need > r.queuedWicketKeepers() {
		return ErrRosterConstraint
	}
	return nil
}
