// Package engine implements the auction core: the multi-stage auction and
// lot state machines, bid admission, soft-close timers, the gap-free event
// log, and the per-auction serialization that makes all of it atomic to
// observers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arjunsheth/auctioncore/internal/clock"
	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/hub"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// maxEventsPage bounds a single EventsSince slice.
const maxEventsPage = 1000

// Engine is the public operation surface of the auction core. One live
// runner exists per initialized auction, looked up by id.
type Engine struct {
	runners   syncMap
	repos     *store.Repositories
	hub       *hub.Hub
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	subBuffer int
	defaults  config.AuctionSettings
}

// New creates an Engine.
func New(repos *store.Repositories, h *hub.Hub, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, cfg config.EngineConfig) *Engine {
	buf := cfg.SubscriberBuffer
	if buf <= 0 {
		buf = 64
	}
	defaults := cfg.Auction
	if defaults.LotDurationMS == 0 {
		defaults = config.DefaultAuctionSettings()
	}
	return &Engine{
		repos:     repos,
		hub:       h,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer("github.com/arjunsheth/auctioncore/internal/engine"),
		subBuffer: buf,
		defaults:  defaults,
	}
}

// InitializeAuction loads persisted auction state into memory and replays
// the lot timer. Idempotent: initializing a live auction is a no-op. If an
// in-progress lot's deadline has already passed, finalization runs before
// the call returns.
func (e *Engine) InitializeAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.InitializeAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if _, ok := e.runners.load(auctionID); ok {
		return nil
	}

	r, err := e.loadRunner(ctx, auctionID)
	if err != nil {
		return err
	}

	// A second initializer may have raced us; the first one wins.
	r, loaded := e.runners.loadOrStore(auctionID, r)
	if loaded {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := e.clock.Now()
	if r.auction.Status == store.AuctionInProgress {
		if ls := r.currentLot(); ls != nil && ls.lot.Status == store.LotInProgress {
			if ls.lot.EndsAt != nil && !now.Before(*ls.lot.EndsAt) {
				// Deadline passed while we were down.
				if ferr := e.finalizeLocked(ctx, r, ls, false); ferr != nil {
					return ferr
				}
				e.scheduleGapLocked(r)
			} else {
				e.scheduleLotTimerLocked(r, ls)
			}
		} else if r.nextQueued() != nil {
			// Crashed between lots: resume advancing.
			e.scheduleGapLocked(r)
		}
	}

	e.logger.InfoContext(ctx, "auction initialized",
		slog.String("auction_id", auctionID),
		slog.String("status", string(r.auction.Status)),
		slog.Int64("last_sequence", r.lastSeq),
	)
	return nil
}

// RecoverAuctions initializes every persisted IN_PROGRESS or PAUSED auction.
// Used on leader startup to restore state after a failover.
func (e *Engine) RecoverAuctions(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.RecoverAuctions")
	defer span.End()

	auctions, err := e.repos.Auctions.ListByStatus(ctx, store.AuctionInProgress, store.AuctionPaused)
	if err != nil {
		return 0, fmt.Errorf("listing live auctions: %w", err)
	}

	recovered := 0
	for _, a := range auctions {
		if initErr := e.InitializeAuction(ctx, a.ID); initErr != nil {
			e.logger.WarnContext(ctx, "failed to recover auction",
				slog.String("auction_id", a.ID),
				slog.Any("error", initErr),
			)
			continue
		}
		recovered++
	}

	e.logger.InfoContext(ctx, "auction recovery complete",
		slog.Int("total", len(auctions)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}

// StartAuction transitions NOT_STARTED -> IN_PROGRESS and starts the first
// lot.
func (e *Engine) StartAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.StartAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auction.Status != store.AuctionNotStarted {
		return fmt.Errorf("%w: cannot start auction in status %s", ErrInvalidState, r.auction.Status)
	}

	now := e.clock.Now()
	updated := r.auction
	updated.Status = store.AuctionInProgress
	updated.UpdatedAt = now
	evt := r.makeEvent(1, event.AuctionStarted, event.AuctionStartedData{AuctionID: auctionID, At: now}, now)

	err = e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.UpdateAuction(ctx, &updated); txErr != nil {
			return txErr
		}
		return tx.AppendEvent(ctx, &evt)
	})
	if err != nil {
		return e.storeErr("starting auction", err)
	}
	r.auction = updated
	r.lastSeq++
	e.hub.Publish(auctionID, evt)

	e.logger.InfoContext(ctx, "auction started", slog.String("auction_id", auctionID))

	return e.advanceLocked(ctx, r)
}

// PauseAuction transitions IN_PROGRESS -> PAUSED, cancelling the lot timer
// and capturing the remaining countdown.
func (e *Engine) PauseAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.PauseAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.pauseLocked(ctx, r)
}

// ResumeAuction transitions PAUSED -> IN_PROGRESS, restoring the lot
// deadline from the captured remaining duration.
func (e *Engine) ResumeAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ResumeAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auction.Status != store.AuctionPaused {
		return fmt.Errorf("%w: cannot resume auction in status %s", ErrInvalidState, r.auction.Status)
	}

	now := e.clock.Now()
	updatedAuction := r.auction
	updatedAuction.Status = store.AuctionInProgress
	updatedAuction.UpdatedAt = now

	data := event.AuctionResumedData{AuctionID: auctionID, At: now}

	var updatedLot *store.Lot
	ls := r.currentLot()
	if ls != nil && ls.lot.Status == store.LotPaused {
		endsAt := now.Add(r.pausedRemaining)
		lot := ls.lot
		lot.Status = store.LotInProgress
		lot.EndsAt = &endsAt
		lot.PausedRemainingMS = nil
		updatedLot = &lot
		data.NewEndsAt = &endsAt
	}
	evt := r.makeEvent(1, event.AuctionResumed, data, now)

	err = e.repos.InTx(ctx, func(tx store.Tx) error {
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
		return e.storeErr("resuming auction", err)
	}

	r.auction = updatedAuction
	if updatedLot != nil {
		ls.lot = *updatedLot
		r.pausedRemaining = 0
		e.scheduleLotTimerLocked(r, ls)
	} else {
		// No lot to restore: the pause landed between lots. The pending-gap
		// flag does not survive a restart, so the persisted shape (terminal
		// or absent current lot) decides, not the flag.
		r.gapPending = false
		e.scheduleGapLocked(r)
	}
	r.lastSeq++
	e.hub.Publish(auctionID, evt)

	e.logger.InfoContext(ctx, "auction resumed",
		slog.String("auction_id", auctionID),
		slog.Bool("lot_restored", updatedLot != nil),
	)
	return nil
}

// PlaceBid admits or rejects a bid. On acceptance the bid is persisted, the
// lot price reflects it, the event log grows, and soft close has been
// evaluated — all before return.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, lotID, teamID string, amount int64, userID string) (*BidReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("lot_id", lotID),
			attribute.String("team_id", teamID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if auctionID == "" || lotID == "" || teamID == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: auction, lot, team and a positive amount are required", ErrInvalidInput)
	}

	r, err := e.runner(auctionID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := e.clock.Now()
	ls, _, err := r.admitBid(now, lotID, teamID, amount)
	if err != nil {
		return nil, err
	}

	bid := store.Bid{
		ID:       uuid.NewString(),
		LotID:    lotID,
		TeamID:   teamID,
		Amount:   amount,
		PlacedAt: now,
		Valid:    true,
	}
	if userID != "" {
		bid.PlacedBy = &userID
	}

	events := []event.Event{
		r.makeEvent(1, event.BidPlaced, event.BidPlacedData{
			LotID:    lotID,
			TeamID:   teamID,
			Amount:   amount,
			At:       now,
			PlacedBy: userID,
		}, now),
	}

	// Soft close: a late bid pushes the deadline out, up to the cap. The
	// new deadline is not bounded by the threshold.
	extended := false
	var newEndsAt time.Time
	if ls.lot.EndsAt.Sub(now) <= r.settings.SoftCloseThreshold() && ls.extensionsUsed < r.settings.MaxExtensions {
		extended = true
		newEndsAt = now.Add(r.settings.SoftCloseExtension())
		events = append(events, r.makeEvent(2, event.LotExtended, event.LotExtendedData{
			LotID:          lotID,
			NewEndsAt:      newEndsAt,
			ExtensionsUsed: ls.extensionsUsed + 1,
		}, now))
	}

	updatedLot := ls.lot
	updatedLot.CurrentPrice = &amount
	if extended {
		updatedLot.EndsAt = &newEndsAt
	}

	err = e.repos.InTx(ctx, func(tx store.Tx) error {
		if txErr := tx.InsertBid(ctx, &bid); txErr != nil {
			return txErr
		}
		if txErr := tx.UpdateLot(ctx, &updatedLot); txErr != nil {
			return txErr
		}
		for i := range events {
			if txErr := tx.AppendEvent(ctx, &events[i]); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, e.storeErr("persisting bid", err)
	}

	ls.lot = updatedLot
	ls.bids = append(ls.bids, bid)
	if extended {
		ls.extensionsUsed++
		e.scheduleLotTimerLocked(r, ls)
	}
	r.lastSeq += int64(len(events))
	e.hub.Publish(auctionID, events...)

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("auction_id", auctionID),
		slog.String("lot_id", lotID),
		slog.String("team_id", teamID),
		slog.Int64("amount", amount),
		slog.Bool("extended", extended),
	)

	receipt := &BidReceipt{
		BidID:    bid.ID,
		NewPrice: amount,
		Sequence: events[0].Sequence,
		Extended: extended,
	}
	if extended {
		t := newEndsAt
		receipt.NewEndsAt = &t
	}
	return receipt, nil
}

// StartNextLot finalizes the current lot if it is still running, then opens
// the lowest-order queued lot. With nothing left in the queue it ends the
// auction.
func (e *Engine) StartNextLot(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.StartNextLot",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auction.Status != store.AuctionInProgress {
		return fmt.Errorf("%w: cannot advance auction in status %s", ErrInvalidState, r.auction.Status)
	}
	return e.advanceLocked(ctx, r)
}

// ForceSell finalizes the active lot immediately by natural policy: sold to
// the highest bidder if any bids exist, unsold otherwise.
func (e *Engine) ForceSell(ctx context.Context, auctionID, lotID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ForceSell",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("lot_id", lotID),
		),
	)
	defer span.End()
	return e.adminFinalize(ctx, auctionID, lotID, false)
}

// MarkUnsold forces the active lot to UNSOLD regardless of bids. The bids
// stay on record; no roster or budget effect.
func (e *Engine) MarkUnsold(ctx context.Context, auctionID, lotID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.MarkUnsold",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("lot_id", lotID),
		),
	)
	defer span.End()
	return e.adminFinalize(ctx, auctionID, lotID, true)
}

// EndAuction finalizes the current lot by natural policy, marks every
// remaining queued lot unsold, and completes the auction.
func (e *Engine) EndAuction(ctx context.Context, auctionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.EndAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auction.Status != store.AuctionInProgress && r.auction.Status != store.AuctionPaused {
		return fmt.Errorf("%w: cannot end auction in status %s", ErrInvalidState, r.auction.Status)
	}

	r.stopGapTimer()
	r.gapPending = false
	if ls := r.currentLot(); ls != nil &&
		(ls.lot.Status == store.LotInProgress || ls.lot.Status == store.LotPaused) {
		r.stopLotTimer()
		if ferr := e.finalizeLocked(ctx, r, ls, false); ferr != nil {
			return ferr
		}
	}

	now := e.clock.Now()
	var lots []store.Lot
	var events []event.Event
	offset := int64(0)
	for _, ls := range r.lots {
		if ls.lot.Status != store.LotQueued {
			continue
		}
		lot := ls.lot
		lot.Status = store.LotUnsold
		lots = append(lots, lot)
		offset++
		events = append(events, r.makeEvent(offset, event.LotUnsold, event.LotUnsoldData{
			LotID:  lot.ID,
			Forced: true,
		}, now))
	}

	updatedAuction := r.auction
	updatedAuction.Status = store.AuctionCompleted
	updatedAuction.UpdatedAt = now
	offset++
	events = append(events, r.makeEvent(offset, event.AuctionEnded, event.AuctionEndedData{
		AuctionID: auctionID,
		At:        now,
	}, now))

	err = e.repos.InTx(ctx, func(tx store.Tx) error {
		for i := range lots {
			if txErr := tx.UpdateLot(ctx, &lots[i]); txErr != nil {
				return txErr
			}
		}
		if txErr := tx.UpdateAuction(ctx, &updatedAuction); txErr != nil {
			return txErr
		}
		for i := range events {
			if txErr := tx.AppendEvent(ctx, &events[i]); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return e.storeErr("ending auction", err)
	}

	for _, lot := range lots {
		r.lotsByID[lot.ID].lot = lot
	}
	r.auction = updatedAuction
	r.lastSeq += int64(len(events))
	e.hub.Publish(auctionID, events...)

	e.logger.InfoContext(ctx, "auction ended",
		slog.String("auction_id", auctionID),
		slog.Int("unsold_remainder", len(lots)),
	)
	return nil
}

// Snapshot returns the projected state, consistent at the reported sequence.
func (e *Engine) Snapshot(ctx context.Context, auctionID string) (Snapshot, error) {
	_, span := e.tracer.Start(ctx, "Engine.Snapshot",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return Snapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

// EventsSince returns a bounded slice of events with sequence > after, in
// order, for reconnect catch-up.
func (e *Engine) EventsSince(ctx context.Context, auctionID string, after int64, limit int) ([]event.Event, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.EventsSince",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.Int64("after", after),
		),
	)
	defer span.End()

	if _, err := e.runner(auctionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxEventsPage {
		limit = maxEventsPage
	}
	events, err := e.repos.Events.LoadSince(ctx, auctionID, after, limit)
	if err != nil {
		return nil, e.storeErr("loading events", err)
	}
	return events, nil
}

// Subscribe attaches a subscriber, replaying persisted events with
// sequence > fromSequence and then joining the live stream with no gap and
// no duplicate.
func (e *Engine) Subscribe(ctx context.Context, auctionID string, fromSequence int64) (*hub.Subscription, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Subscribe",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.Int64("from_sequence", fromSequence),
		),
	)
	defer span.End()

	r, err := e.runner(auctionID)
	if err != nil {
		return nil, err
	}

	// Holding the serialization token while loading the replay and
	// attaching guarantees no event falls between the two.
	r.mu.Lock()
	replay, err := e.repos.Events.LoadSince(ctx, auctionID, fromSequence, 0)
	if err != nil {
		r.mu.Unlock()
		return nil, e.storeErr("loading replay events", err)
	}
	sub := e.hub.Attach(auctionID, e.subBuffer)
	r.mu.Unlock()

	sub.Start(replay)
	return sub, nil
}

// runner looks up a live auction.
func (e *Engine) runner(auctionID string) (*runner, error) {
	r, ok := e.runners.load(auctionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	return r, nil
}

// storeErr classifies persistence failures: duplicate sequence allocation
// surfaces as Conflict, anything else as Unavailable.
func (e *Engine) storeErr(op string, err error) error {
	if errors.Is(err, store.ErrDuplicateSequence) {
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
