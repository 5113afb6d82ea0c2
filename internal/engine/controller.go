package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// syncMap is the runner registry. Zero value is ready to use.
type syncMap struct {
	mu sync.RWMutex
	m  map[string]*runner
}

func (s *syncMap) load(id string) (*runner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

func (s *syncMap) loadOrStore(id string, r *runner) (*runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[id]; ok {
		return existing, true
	}
	if s.m == nil {
		s.m = make(map[string]*runner)
	}
	s.m[id] = r
	return r, false
}

// loadRunner assembles the in-memory projection of one auction from the
// repositories.
func (e *Engine) loadRunner(ctx context.Context, auctionID string) (*runner, error) {
	auction, err := e.repos.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, e.storeErr("loading auction", err)
	}
	if auction == nil {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}

	settings := e.defaults
	if len(auction.Settings) > 0 {
		settings, err = config.DecodeAuctionSettings(auction.Settings)
		if err != nil {
			return nil, fmt.Errorf("%w: auction %s: %v", ErrInvalidInput, auctionID, err)
		}
	}

	season, err := e.repos.Seasons.GetByID(ctx, auction.SeasonID)
	if err != nil {
		return nil, e.storeErr("loading season", err)
	}
	if season == nil {
		return nil, fmt.Errorf("%w: season %s", ErrInvalidState, auction.SeasonID)
	}

	players, err := e.repos.Players.ListBySeason(ctx, auction.SeasonID)
	if err != nil {
		return nil, e.storeErr("loading players", err)
	}
	playersByID := make(map[string]store.Player, len(players))
	for _, p := range players {
		playersByID[p.ID] = p
	}

	lots, err := e.repos.Lots.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, e.storeErr("loading lots", err)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].LotOrder < lots[j].LotOrder })

	r := &runner{
		auction:  *auction,
		season:   *season,
		settings: settings,
		schedule: ScheduleFromSettings(settings),
		lotsByID: make(map[string]*lotState, len(lots)),
		teams:    make(map[string]*teamState),
	}

	for _, lot := range lots {
		player, ok := playersByID[lot.PlayerID]
		if !ok {
			return nil, fmt.Errorf("%w: lot %s references unknown player %s", ErrInvalidState, lot.ID, lot.PlayerID)
		}
		ls := &lotState{lot: lot, player: player}
		allBids, bidErr := e.repos.Bids.ListByLot(ctx, lot.ID)
		if bidErr != nil {
			return nil, e.storeErr("loading bids", bidErr)
		}
		for _, b := range allBids {
			if b.Valid {
				ls.bids = append(ls.bids, b)
			}
		}
		if lot.Status == store.LotPaused && lot.PausedRemainingMS != nil {
			r.pausedRemaining = time.Duration(*lot.PausedRemainingMS) * time.Millisecond
		}
		r.lots = append(r.lots, ls)
		r.lotsByID[lot.ID] = ls
	}

	teams, err := e.repos.Teams.ListBySeason(ctx, auction.SeasonID)
	if err != nil {
		return nil, e.storeErr("loading teams", err)
	}
	for _, t := range teams {
		ts := &teamState{team: t}
		roster, rErr := e.repos.Rosters.ListByTeam(ctx, t.ID)
		if rErr != nil {
			return nil, e.storeErr("loading roster", rErr)
		}
		ts.squadSize = len(roster)
		for _, entry := range roster {
			if p, ok := playersByID[entry.PlayerID]; ok {
				if p.IsOverseas {
					ts.overseas++
				}
				if p.Role == store.RoleWicketKeeper {
					ts.wicketKeepers++
				}
			}
		}
		r.teams[t.ID] = ts
	}

	r.lastSeq, err = e.repos.Events.LastSequence(ctx, auctionID)
	if err != nil {
		return nil, e.storeErr("loading last sequence", err)
	}

	// Extension counts are not a column; they are derived from the log.
	if cur := r.currentLot(); cur != nil &&
		(cur.lot.Status == store.LotInProgress || cur.lot.Status == store.LotPaused) {
		used, cErr := e.countExtensions(ctx, auctionID, cur.lot.ID)
		if cErr != nil {
			return nil, cErr
		}
		cur.extensionsUsed = used
	}

	return r, nil
}

func (e *Engine) countExtensions(ctx context.Context, auctionID, lotID string) (int, error) {
	events, err := e.repos.Events.LoadByType(ctx, auctionID, event.LotExtended)
	if err != nil {
		return 0, e.storeErr("loading extension events", err)
	}
	used := 0
	for _, evt := range events {
		var data event.LotExtendedData
		if jErr := json.Unmarshal(evt.Data, &data); jErr != nil {
			continue
		}
		if data.LotID == lotID {
			used++
		}
	}
	return used, nil
}

// pauseLocked performs the IN_PROGRESS -> PAUSED transition. Also the
// escalation path when a timer-driven finalization keeps failing. Caller
// holds r.mu.
func (e *Engine) pauseLocked(ctx context.Context, r *runner) error {
	if r.auction.Status != store.AuctionInProgress {
		return fmt.Errorf("%w: cannot pause auction in status %s", ErrInvalidState, r.auction.Status)
	}

	now := e.clock.Now()
	if r.gapTimer != nil {
		r.stopGapTimer()
		r.gapPending = true
	}

	var updatedLot *store.Lot
	var remaining time.Duration
	ls := r.currentLot()
	if ls != nil && ls.lot.Status == store.LotInProgress {
		r.stopLotTimer()
		if ls.lot.EndsAt != nil {
			remaining = ls.lot.EndsAt.Sub(now)
		}
		if remaining < 0 {
			remaining = 0
		}
		ms := remaining.Milliseconds()
		lot := ls.lot
		lot.Status = store.LotPaused
		lot.EndsAt = nil
		lot.PausedRemainingMS = &ms
		updatedLot = &lot
	}

	updatedAuction := r.auction
	updatedAuction.Status = store.AuctionPaused
	updatedAuction.UpdatedAt = now
	evt := r.makeEvent(1, event.AuctionPaused, event.AuctionPausedData{
		AuctionID: r.auction.ID,
		At:        now,
	}, now)

	err := e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.UpdateAuction(ctx, &updatedAuction); txErr != nil {
			return txErr
		}
		if updatedLot != nil {
			if txErr := tx.UpdateLot(ctx, updatedLot); txErr != nil {
				return txErr
			}
		}
		return tx.AppendEvent(ctx, &evt)
	})
	if err != nil {
		return e.storeErr("pausing auction", err)
	}

	r.auction = updatedAuction
	if updatedLot != nil {
		ls.lot = *updatedLot
		r.pausedRemaining = remaining
	}
	r.lastSeq++
	e.hub.Publish(r.auction.ID, evt)

	e.logger.InfoContext(ctx, "auction paused",
		slog.String("auction_id", r.auction.ID),
		slog.Duration("lot_remaining", remaining),
	)
	return nil
}

// adminFinalize is the shared body of ForceSell and MarkUnsold.
func (e *Engine) adminFinalize(ctx context.Context, auctionID, lotID string, forceUnsold bool) error {
	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auction.Status != store.AuctionInProgress && r.auction.Status != store.AuctionPaused {
		return fmt.Errorf("%w: cannot finalize lot in auction status %s", ErrInvalidState, r.auction.Status)
	}

	ls, ok := r.lotsByID[lotID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLotNotFound, lotID)
	}
	cur := r.currentLot()
	if cur == nil || cur.lot.ID != lotID ||
		(ls.lot.Status != store.LotInProgress && ls.lot.Status != store.LotPaused) {
		return fmt.Errorf("%w: %s", ErrLotNotActive, lotID)
	}

	r.stopLotTimer()
	if err := e.finalizeLocked(ctx, r, ls, forceUnsold); err != nil {
		return err
	}

	if r.auction.Status == store.AuctionInProgress {
		e.scheduleGapLocked(r)
	} else {
		r.gapPending = true
	}
	return nil
}

// finalizeLocked closes the active lot: sold to the highest bidder when bids
// exist and forceUnsold is false, unsold otherwise. Roster, budget debit and
// the audit row commit in the same transaction as the lot update and the
// event. Caller holds r.mu and has stopped the lot timer.
func (e *Engine) finalizeLocked(ctx context.Context, r *runner, ls *lotState, forceUnsold bool) error {
	now := e.clock.Now()
	winning := ls.lastBid()
	sold := !forceUnsold && winning != nil

	lot := ls.lot
	lot.EndsAt = nil
	lot.PausedRemainingMS = nil

	var evt event.Event
	var roster *store.RosterEntry
	var debit *store.BudgetTransaction
	if sold {
		lot.Status = store.LotSold
		lot.WinnerTeamID = &winning.TeamID
		lot.FinalPrice = &winning.Amount
		evt = r.makeEvent(1, event.LotSold, event.LotSoldData{
			LotID:      lot.ID,
			TeamID:     winning.TeamID,
			FinalPrice: winning.Amount,
		}, now)
		roster = &store.RosterEntry{
			ID:        uuid.NewString(),
			TeamID:    winning.TeamID,
			PlayerID:  lot.PlayerID,
			Price:     winning.Amount,
			CreatedAt: now,
		}
		lotID := lot.ID
		debit = &store.BudgetTransaction{
			ID:        uuid.NewString(),
			TeamID:    winning.TeamID,
			AuctionID: r.auction.ID,
			LotID:     &lotID,
			Amount:    winning.Amount,
			Kind:      store.BudgetDebit,
			CreatedAt: now,
		}
	} else {
		lot.Status = store.LotUnsold
		evt = r.makeEvent(1, event.LotUnsold, event.LotUnsoldData{
			LotID:  lot.ID,
			Forced: forceUnsold,
		}, now)
	}

	err := e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.UpdateLot(ctx, &lot); txErr != nil {
			return txErr
		}
		if sold {
			if txErr := tx.InsertRosterEntry(ctx, roster); txErr != nil {
				return txErr
			}
			if txErr := tx.InsertBudgetTransaction(ctx, debit); txErr != nil {
				return txErr
			}
			if txErr := tx.UpdateTeamSpent(ctx, winning.TeamID, winning.Amount); txErr != nil {
				return txErr
			}
		}
		return tx.AppendEvent(ctx, &evt)
	})
	if err != nil {
		return e.storeErr("finalizing lot", err)
	}

	ls.lot = lot
	r.pausedRemaining = 0
	if sold {
		ts := r.teams[winning.TeamID]
		ts.team.BudgetSpent += winning.Amount
		ts.squadSize++
		if ls.player.IsOverseas {
			ts.overseas++
		}
		if ls.player.Role == store.RoleWicketKeeper {
			ts.wicketKeepers++
		}
	}
	r.lastSeq++
	e.hub.Publish(r.auction.ID, evt)

	if sold {
		e.logger.InfoContext(ctx, "lot sold",
			slog.String("auction_id", r.auction.ID),
			slog.String("lot_id", lot.ID),
			slog.String("team_id", winning.TeamID),
			slog.Int64("final_price", winning.Amount),
		)
	} else {
		e.logger.InfoContext(ctx, "lot unsold",
			slog.String("auction_id", r.auction.ID),
			slog.String("lot_id", lot.ID),
			slog.Bool("forced", forceUnsold),
		)
	}
	return nil
}

// advanceLocked finalizes a still-running current lot, then opens the next
// queued lot or completes the auction. Caller holds r.mu with the auction
// IN_PROGRESS.
func (e *Engine) advanceLocked(ctx context.Context, r *runner) error {
	r.stopGapTimer()

	if cur := r.currentLot(); cur != nil && cur.lot.Status == store.LotInProgress {
		r.stopLotTimer()
		if err := e.finalizeLocked(ctx, r, cur, false); err != nil {
			return err
		}
	}

	now := e.clock.Now()
	next := r.nextQueued()
	if next == nil {
		updatedAuction := r.auction
		updatedAuction.Status = store.AuctionCompleted
		updatedAuction.UpdatedAt = now
		evt := r.makeEvent(1, event.AuctionEnded, event.AuctionEndedData{
			AuctionID: r.auction.ID,
			At:        now,
		}, now)

		err := e.repos.InTx(ctx, func(tx store.Tx) error {
			if txErr := tx.UpdateAuction(ctx, &updatedAuction); txErr != nil {
				return txErr
			}
			return tx.AppendEvent(ctx, &evt)
		})
		if err != nil {
			return e.storeErr("completing auction", err)
		}

		r.auction = updatedAuction
		r.lastSeq++
		e.hub.Publish(r.auction.ID, evt)
		e.logger.InfoContext(ctx, "auction completed", slog.String("auction_id", r.auction.ID))
		return nil
	}

	endsAt := now.Add(r.settings.LotDuration())
	basePrice := next.player.BasePrice
	lot := next.lot
	lot.Status = store.LotInProgress
	lot.CurrentPrice = &basePrice
	lot.EndsAt = &endsAt

	updatedAuction := r.auction
	updatedAuction.CurrentLotID = &next.lot.ID
	updatedAuction.UpdatedAt = now

	evt := r.makeEvent(1, event.LotStarted, event.LotStartedData{
		LotID:      lot.ID,
		PlayerID:   next.player.ID,
		PlayerName: next.player.Name,
		BasePrice:  basePrice,
		EndsAt:     endsAt,
	}, now)

	err := e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.UpdateLot(ctx, &lot); txErr != nil {
			return txErr
		}
		if txErr := tx.UpdateAuction(ctx, &updatedAuction); txErr != nil {
			return txErr
		}
		return tx.AppendEvent(ctx, &evt)
	})
	if err != nil {
		return e.storeErr("starting lot", err)
	}

	next.lot = lot
	next.extensionsUsed = 0
	r.auction = updatedAuction
	r.lastSeq++
	e.scheduleLotTimerLocked(r, next)
	e.hub.Publish(r.auction.ID, evt)

	e.logger.InfoContext(ctx, "lot started",
		slog.String("auction_id", r.auction.ID),
		slog.String("lot_id", lot.ID),
		slog.String("player", next.player.Name),
		slog.Int64("base_price", basePrice),
	)
	return nil
}

// scheduleLotTimerLocked arms the deadline wake for the lot. Caller holds
// r.mu; the lot has a non-nil EndsAt.
func (e *Engine) scheduleLotTimerLocked(r *runner, ls *lotState) {
	r.stopLotTimer()
	d := ls.lot.EndsAt.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	auctionID := r.auction.ID
	lotID := ls.lot.ID
	r.lotTimer = e.clock.AfterFunc(d, func() {
		e.onLotDeadline(auctionID, lotID)
	})
}

// scheduleGapLocked arms the inter-lot gap wake. Caller holds r.mu.
func (e *Engine) scheduleGapLocked(r *runner) {
	r.stopGapTimer()
	auctionID := r.auction.ID
	r.gapTimer = e.clock.AfterFunc(r.settings.InterLotGap(), func() {
		e.onGap(auctionID)
	})
}

// onLotDeadline is the lot timer callback. It competes with in-flight bids
// for the runner mutex; whichever wins settles whether the lot closed or
// got extended.
func (e *Engine) onLotDeadline(auctionID, lotID string) {
	r, ok := e.runners.load(auctionID)
	if !ok {
		return
	}
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lotTimer = nil

	ls := r.lotsByID[lotID]
	if ls == nil || ls.lot.Status != store.LotInProgress || r.auction.Status != store.AuctionInProgress {
		return
	}
	if ls.lot.EndsAt != nil && e.clock.Now().Before(*ls.lot.EndsAt) {
		// An extension landed after this wake was armed.
		e.scheduleLotTimerLocked(r, ls)
		return
	}

	if err := e.finalizeLocked(ctx, r, ls, false); err != nil {
		e.logger.WarnContext(ctx, "deadline finalization failed, retrying",
			slog.String("auction_id", auctionID),
			slog.String("lot_id", lotID),
			slog.Any("error", err),
		)
		if err = e.finalizeLocked(ctx, r, ls, false); err != nil {
			e.logger.ErrorContext(ctx, "deadline finalization failed twice, pausing auction",
				slog.String("auction_id", auctionID),
				slog.String("lot_id", lotID),
				slog.Any("error", err),
			)
			if pErr := e.pauseLocked(ctx, r); pErr != nil {
				e.logger.ErrorContext(ctx, "escalation pause failed",
					slog.String("auction_id", auctionID),
					slog.Any("error", pErr),
				)
			}
			return
		}
	}
	e.scheduleGapLocked(r)
}

// onGap is the inter-lot gap callback.
func (e *Engine) onGap(auctionID string) {
	r, ok := e.runners.load(auctionID)
	if !ok {
		return
	}
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gapTimer = nil

	if r.auction.Status != store.AuctionInProgress {
		r.gapPending = true
		return
	}

	if err := e.advanceLocked(ctx, r); err != nil {
		e.logger.WarnContext(ctx, "lot advance failed, retrying",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		if err = e.advanceLocked(ctx, r); err != nil {
			e.logger.ErrorContext(ctx, "lot advance failed twice, pausing auction",
				slog.String("auction_id", auctionID),
				slog.Any("error", err),
			)
			if pErr := e.pauseLocked(ctx, r); pErr != nil {
				e.logger.ErrorContext(ctx, "escalation pause failed",
					slog.String("auction_id", auctionID),
					slog.Any("error", pErr),
				)
			}
		}
	}
}
