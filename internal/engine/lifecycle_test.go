package engine_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arjunsheth/auctioncore/internal/clock"
	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/engine"
	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/hub"
	"github.com/arjunsheth/auctioncore/internal/store"
)

func TestGapAdvancesToNextLot(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	f.start()

	f.mustBid(lot1, team, 2_100_000)
	f.clk.Advance(30 * time.Second)

	// During the gap the sold lot is still the snapshot's current lot.
	snap := f.snapshot()
	if snap.CurrentLot.LotID != lot1 || snap.CurrentLot.Status != store.LotSold {
		t.Fatalf("expected sold lot1 during gap, got %+v", snap.CurrentLot)
	}

	f.clk.Advance(3 * time.Second)
	snap = f.snapshot()
	if snap.CurrentLot.LotID != lot2 || snap.CurrentLot.Status != store.LotInProgress {
		t.Fatalf("expected lot2 in progress after gap, got %+v", snap.CurrentLot)
	}
	if snap.CurrentLot.CurrentPrice != 1_000_000 {
		t.Errorf("expected lot2 to open at its base price, got %d", snap.CurrentLot.CurrentPrice)
	}
	wantEnds := t0.Add(63 * time.Second)
	if !snap.CurrentLot.EndsAt.Equal(wantEnds) {
		t.Errorf("expected ends_at %v, got %v", wantEnds, snap.CurrentLot.EndsAt)
	}
}

func TestStartNextLotSkipsGap(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	f.start()

	f.clk.Advance(5 * time.Second)
	f.mustBid(lot1, team, 2_100_000)

	// Admin advances mid-countdown: lot1 finalizes to the leader, lot2
	// opens immediately.
	if err := f.eng.StartNextLot(f.ctx, f.auctionID); err != nil {
		t.Fatalf("advancing: %v", err)
	}

	lot1Rec, _ := f.repos.Lots.GetByID(f.ctx, lot1)
	if lot1Rec.Status != store.LotSold {
		t.Fatalf("expected lot1 SOLD, got %s", lot1Rec.Status)
	}
	snap := f.snapshot()
	if snap.CurrentLot.LotID != lot2 || snap.CurrentLot.Status != store.LotInProgress {
		t.Fatalf("expected lot2 active, got %+v", snap.CurrentLot)
	}
	if got := f.spent(team); got != 2_100_000 {
		t.Errorf("expected debit on early finalization, got %d", got)
	}
}

func TestForceSellAndMarkUnsold(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	f.start()

	f.mustBid(lot1, team, 2_100_000)
	if err := f.eng.ForceSell(f.ctx, f.auctionID, lot1); err != nil {
		t.Fatalf("force sell: %v", err)
	}
	lot1Rec, _ := f.repos.Lots.GetByID(f.ctx, lot1)
	if lot1Rec.Status != store.LotSold || *lot1Rec.FinalPrice != 2_100_000 {
		t.Fatalf("expected lot1 sold at 2100000, got %+v", lot1Rec)
	}

	f.clk.Advance(3 * time.Second) // gap opens lot2
	f.mustBid(lot2, team, 1_100_000)
	if err := f.eng.MarkUnsold(f.ctx, f.auctionID, lot2); err != nil {
		t.Fatalf("mark unsold: %v", err)
	}
	lot2Rec, _ := f.repos.Lots.GetByID(f.ctx, lot2)
	if lot2Rec.Status != store.LotUnsold {
		t.Fatalf("expected lot2 UNSOLD, got %s", lot2Rec.Status)
	}
	// The bid stays on record; no debit, no roster entry.
	bids, _ := f.repos.Bids.ListByLot(f.ctx, lot2)
	if len(bids) != 1 || !bids[0].Valid {
		t.Errorf("expected the losing bid kept on record, got %+v", bids)
	}
	if got := f.spent(team); got != 2_100_000 {
		t.Errorf("expected only the lot1 debit, got %d", got)
	}

	var unsold event.LotUnsoldData
	events := f.events()
	last := events[len(events)-1]
	if last.Type != event.LotUnsold {
		t.Fatalf("expected lot.unsold, got %s", last.Type)
	}
	if err := json.Unmarshal(last.Data, &unsold); err != nil || !unsold.Forced {
		t.Errorf("expected forced unsold payload, got %+v (err %v)", unsold, err)
	}
}

func TestEndAuctionDiscardsQueue(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	p3 := f.addPlayer("Third Up", store.RoleAllRounder, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	lot3 := f.addLot(p3, 3)
	f.start()

	f.mustBid(lot1, team, 2_100_000)
	if err := f.eng.EndAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("ending auction: %v", err)
	}

	// Current lot finalizes naturally; the queue is marked unsold.
	lot1Rec, _ := f.repos.Lots.GetByID(f.ctx, lot1)
	if lot1Rec.Status != store.LotSold {
		t.Errorf("expected lot1 SOLD, got %s", lot1Rec.Status)
	}
	for _, id := range []string{lot2, lot3} {
		rec, _ := f.repos.Lots.GetByID(f.ctx, id)
		if rec.Status != store.LotUnsold {
			t.Errorf("expected queued lot %s UNSOLD, got %s", id, rec.Status)
		}
	}
	if got := f.snapshot().AuctionStatus; got != store.AuctionCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	events := f.events()
	if events[len(events)-1].Type != event.AuctionEnded {
		t.Errorf("expected auction.ended last, got %s", events[len(events)-1].Type)
	}

	// Terminal state rejects everything.
	if err := f.eng.StartNextLot(f.ctx, f.auctionID); !errors.Is(err, engine.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after completion, got %v", err)
	}
}

func TestPauseBetweenLots(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	f.start()

	f.mustBid(lot1, team, 2_100_000)
	f.clk.Advance(30 * time.Second) // lot1 sold, gap armed

	if err := f.eng.PauseAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("pausing in gap: %v", err)
	}
	f.clk.Advance(60 * time.Second)
	if got := f.snapshot().AuctionStatus; got != store.AuctionPaused {
		t.Fatalf("expected to stay PAUSED, got %s", got)
	}

	if err := f.eng.ResumeAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("resuming: %v", err)
	}
	f.clk.Advance(3 * time.Second)
	snap := f.snapshot()
	if snap.CurrentLot.LotID != lot2 || snap.CurrentLot.Status != store.LotInProgress {
		t.Fatalf("expected lot2 to open after resumed gap, got %+v", snap.CurrentLot)
	}
}

func TestResumeAfterRestartBetweenLots(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 50_000_000)
	p1 := f.addPlayer("First Up", store.RoleBatsman, false, 2_000_000)
	p2 := f.addPlayer("Second Up", store.RoleBowler, false, 1_000_000)
	lot1 := f.addLot(p1, 1)
	lot2 := f.addLot(p2, 2)
	f.start()

	f.mustBid(lot1, team, 2_100_000)
	f.clk.Advance(30 * time.Second) // lot1 sold, gap armed
	if err := f.eng.PauseAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("pausing in gap: %v", err)
	}

	// Restart: a fresh engine over the same store only sees the persisted
	// shape (sold current lot, queued successor), not the old engine's
	// pending-gap flag.
	clk2 := clock.NewManual(f.clk.Now())
	eng2 := engine.New(f.repos, hub.New(slog.Default()), clk2, slog.Default(),
		noop.NewTracerProvider(), config.EngineConfig{SubscriberBuffer: 16})
	if err := eng2.InitializeAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("initializing after restart: %v", err)
	}

	if err := eng2.ResumeAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("resuming after restart: %v", err)
	}
	clk2.Advance(3 * time.Second)

	snap, err := eng2.Snapshot(f.ctx, f.auctionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.AuctionStatus != store.AuctionInProgress {
		t.Fatalf("expected IN_PROGRESS after resumed gap, got %s", snap.AuctionStatus)
	}
	if snap.CurrentLot.LotID != lot2 || snap.CurrentLot.Status != store.LotInProgress {
		t.Fatalf("expected lot2 to open after restart+resume, got %+v", snap.CurrentLot)
	}
}

func TestApplyRefund(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 10_000_000)
	player := f.addPlayer("R Sharma", store.RoleBatsman, false, 2_000_000)
	lot := f.addLot(player, 1)
	f.start()

	f.mustBid(lot, team, 2_100_000)
	f.clk.Advance(33 * time.Second) // sold + auction ended

	if err := f.eng.ApplyRefund(f.ctx, f.auctionID, team, 600_000); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.spent(team); got != 1_500_000 {
		t.Errorf("expected budget_spent 1500000 after refund, got %d", got)
	}

	txns, _ := f.repos.Budget.ListByTeam(f.ctx, team)
	if len(txns) != 2 {
		t.Fatalf("expected debit + refund rows, got %+v", txns)
	}
	if txns[0].Kind != store.BudgetDebit || txns[1].Kind != store.BudgetRefund {
		t.Errorf("expected kinds [debit refund], got [%s %s]", txns[0].Kind, txns[1].Kind)
	}

	// A refund larger than spent is invalid.
	err := f.eng.ApplyRefund(f.ctx, f.auctionID, team, 5_000_000)
	if !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for over-refund, got %v", err)
	}
}

func TestRecoveryResumesTimers(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 10_000_000)
	player := f.addPlayer("R Sharma", store.RoleBatsman, false, 2_000_000)
	lot := f.addLot(player, 1)
	f.start()

	f.clk.Advance(28 * time.Second)
	r := f.mustBid(lot, team, 2_100_000) // extends to t0+38s
	if !r.Extended {
		t.Fatal("expected soft-close extension")
	}

	// Simulate a crash: a fresh engine over the same store, on its own
	// clock so the abandoned engine's timers never fire.
	clk2 := clock.NewManual(f.clk.Now())
	eng2 := engine.New(f.repos, hub.New(slog.Default()), clk2, slog.Default(),
		noop.NewTracerProvider(), config.EngineConfig{SubscriberBuffer: 16})
	n, err := eng2.RecoverAuctions(f.ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 recovered auction, got %d (%v)", n, err)
	}

	snap, err := eng2.Snapshot(f.ctx, f.auctionID)
	if err != nil {
		t.Fatalf("snapshot after recovery: %v", err)
	}
	if snap.CurrentLot.ExtensionsUsed != 1 {
		t.Errorf("expected extension count rebuilt from the log, got %d", snap.CurrentLot.ExtensionsUsed)
	}
	if !snap.CurrentLot.EndsAt.Equal(t0.Add(38 * time.Second)) {
		t.Errorf("expected restored deadline t0+38s, got %v", snap.CurrentLot.EndsAt)
	}

	// The recovered timer still fires.
	clk2.Advance(10 * time.Second)
	lotRec, _ := f.repos.Lots.GetByID(f.ctx, lot)
	if lotRec.Status != store.LotSold {
		t.Fatalf("expected SOLD via recovered timer, got %s", lotRec.Status)
	}
}

func TestRecoveryFinalizesExpiredLot(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 10_000_000)
	player := f.addPlayer("R Sharma", store.RoleBatsman, false, 2_000_000)
	lot := f.addLot(player, 1)
	f.start()
	f.mustBid(lot, team, 2_100_000)

	// Move time past the deadline without the original engine seeing it:
	// drop its runner by using a brand-new engine, then initialize after
	// the deadline has passed.
	dead := clock.NewManual(t0.Add(40 * time.Second))
	eng2 := engine.New(f.repos, hub.New(slog.Default()), dead, slog.Default(),
		noop.NewTracerProvider(), config.EngineConfig{SubscriberBuffer: 16})
	if err := eng2.InitializeAuction(f.ctx, f.auctionID); err != nil {
		t.Fatalf("initializing after expiry: %v", err)
	}

	lotRec, _ := f.repos.Lots.GetByID(f.ctx, lot)
	if lotRec.Status != store.LotSold {
		t.Fatalf("expected immediate finalization of expired lot, got %s", lotRec.Status)
	}
}

func TestSplitBrainAppendConflicts(t *testing.T) {
	f := newFixture(t, store.Season{}, flatSettings())
	team := f.addTeam("Chennai", 10_000_000)
	player := f.addPlayer("R Sharma", store.RoleBatsman, false, 2_000_000)
	lot := f.addLot(player, 1)
	f.start()

	// Another writer claims the next sequence behind this engine's back.
	if err := f.repos.Events.Append(f.ctx, event.Event{
		ID: uuid.NewString(), AuctionID: f.auctionID, Sequence: 3,
		Type: event.BidPlaced, Data: []byte(`{}`), CreatedAt: f.clk.Now(),
	}); err != nil {
		t.Fatalf("seeding foreign event: %v", err)
	}

	_, err := f.bid(lot, team, 2_100_000)
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("expected ErrConflict on sequence collision, got %v", err)
	}
}
