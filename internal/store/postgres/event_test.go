package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
	"github.com/arjunsheth/auctioncore/internal/store/postgres"
)

func testEvent(auctionID string, seq int64, typ event.Type) event.Event {
	data, _ := json.Marshal(map[string]string{"auction_id": auctionID})
	return event.Event{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Sequence:  seq,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

func TestEventStore_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db)
	_, _, auctionID, _ := seedAuction(t, repos)
	ctx := context.Background()

	es := postgres.NewEventStore(db)
	if err := es.Append(ctx,
		testEvent(auctionID, 1, event.AuctionStarted),
		testEvent(auctionID, 2, event.LotStarted),
		testEvent(auctionID, 3, event.BidPlaced),
	); err != nil {
		t.Fatalf("appending events: %v", err)
	}

	events, err := es.Load(ctx, auctionID)
	if err != nil {
		t.Fatalf("loading events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			t.Errorf("event %d: expected sequence %d, got %d", i, i+1, e.Sequence)
		}
	}
}

func TestEventStore_DuplicateSequence(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db)
	_, _, auctionID, _ := seedAuction(t, repos)
	ctx := context.Background()

	es := postgres.NewEventStore(db)
	if err := es.Append(ctx, testEvent(auctionID, 1, event.AuctionStarted)); err != nil {
		t.Fatalf("appending first event: %v", err)
	}

	err := es.Append(ctx, testEvent(auctionID, 1, event.AuctionStarted))
	if !errors.Is(err, store.ErrDuplicateSequence) {
		t.Fatalf("expected ErrDuplicateSequence, got %v", err)
	}

	// The failed append must not leave a row behind.
	last, err := es.LastSequence(ctx, auctionID)
	if err != nil {
		t.Fatalf("loading last sequence: %v", err)
	}
	if last != 1 {
		t.Errorf("expected last sequence 1, got %d", last)
	}
}

func TestEventStore_LoadSince(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db)
	_, _, auctionID, _ := seedAuction(t, repos)
	ctx := context.Background()

	es := postgres.NewEventStore(db)
	for seq := int64(1); seq <= 5; seq++ {
		if err := es.Append(ctx, testEvent(auctionID, seq, event.BidPlaced)); err != nil {
			t.Fatalf("appending event %d: %v", seq, err)
		}
	}

	events, err := es.LoadSince(ctx, auctionID, 2, 2)
	if err != nil {
		t.Fatalf("loading events since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Errorf("expected sequences [3 4], got [%d %d]", events[0].Sequence, events[1].Sequence)
	}

	all, err := es.LoadSince(ctx, auctionID, 0, 0)
	if err != nil {
		t.Fatalf("loading all events: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 events with no limit, got %d", len(all))
	}
}

func TestEventStore_LoadByType(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db)
	_, _, auctionID, _ := seedAuction(t, repos)
	ctx := context.Background()

	es := postgres.NewEventStore(db)
	if err := es.Append(ctx,
		testEvent(auctionID, 1, event.AuctionStarted),
		testEvent(auctionID, 2, event.LotStarted),
		testEvent(auctionID, 3, event.LotExtended),
		testEvent(auctionID, 4, event.BidPlaced),
		testEvent(auctionID, 5, event.LotExtended),
	); err != nil {
		t.Fatalf("appending events: %v", err)
	}

	extended, err := es.LoadByType(ctx, auctionID, event.LotExtended)
	if err != nil {
		t.Fatalf("loading by type: %v", err)
	}
	if len(extended) != 2 || extended[0].Sequence != 3 || extended[1].Sequence != 5 {
		t.Fatalf("expected extension events [3 5], got %+v", extended)
	}

	none, err := es.LoadByType(ctx, auctionID, event.LotSold)
	if err != nil {
		t.Fatalf("loading by type: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no lot.sold events, got %d", len(none))
	}
}

func TestEventStore_LastSequenceEmpty(t *testing.T) {
	db := newTestDB(t)
	repos := postgres.New(db)
	_, _, auctionID, _ := seedAuction(t, repos)

	es := postgres.NewEventStore(db)
	last, err := es.LastSequence(context.Background(), auctionID)
	if err != nil {
		t.Fatalf("loading last sequence: %v", err)
	}
	if last != 0 {
		t.Errorf("expected 0 for empty log, got %d", last)
	}
}
