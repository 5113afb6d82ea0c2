package hub_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/hub"
)

func evt(seq int64) event.Event {
	return event.Event{AuctionID: "auc-1", Sequence: seq, Type: event.BidPlaced}
}

func recv(t *testing.T, sub *hub.Subscription) (event.Event, bool) {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		return e, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}, false
	}
}

func TestReplayThenLive(t *testing.T) {
	h := hub.New(slog.Default())
	sub := h.Attach("auc-1", 8)
	defer sub.Close()

	// Live events published before Start queue up behind the replay.
	h.Publish("auc-1", evt(4), evt(5))
	sub.Start([]event.Event{evt(1), evt(2), evt(3)})

	for want := int64(1); want <= 5; want++ {
		e, ok := recv(t, sub)
		if !ok {
			t.Fatalf("stream closed at sequence %d", want)
		}
		if e.Sequence != want {
			t.Fatalf("got sequence %d, want %d", e.Sequence, want)
		}
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	h := hub.New(slog.Default())
	sub := h.Attach("auc-1", 2)

	// Delivery has not started, so the third publish overflows the buffer
	// and detaches the subscriber.
	h.Publish("auc-1", evt(1))
	h.Publish("auc-1", evt(2))
	h.Publish("auc-1", evt(3))

	if n := h.SubscriberCount("auc-1"); n != 0 {
		t.Fatalf("got %d subscribers after overflow, want 0", n)
	}
	sub.Start(nil)

	// The events buffered before the drop are still delivered, then the
	// stream closes.
	for want := int64(1); want <= 2; want++ {
		e, ok := recv(t, sub)
		if !ok {
			t.Fatalf("stream closed at sequence %d", want)
		}
		if e.Sequence != want {
			t.Fatalf("got sequence %d, want %d", e.Sequence, want)
		}
	}
	if _, ok := recv(t, sub); ok {
		t.Fatal("expected stream to close after drained buffer")
	}
	if !errors.Is(sub.Err(), hub.ErrSlowConsumer) {
		t.Fatalf("got err %v, want ErrSlowConsumer", sub.Err())
	}
}

func TestCloseDetaches(t *testing.T) {
	h := hub.New(slog.Default())
	sub := h.Attach("auc-1", 4)
	sub.Start(nil)

	if n := h.SubscriberCount("auc-1"); n != 1 {
		t.Fatalf("got %d subscribers, want 1", n)
	}

	sub.Close()
	sub.Close() // idempotent

	if n := h.SubscriberCount("auc-1"); n != 0 {
		t.Fatalf("got %d subscribers after close, want 0", n)
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("clean close reported err %v", err)
	}

	// Publishing after close is a no-op, not a panic.
	h.Publish("auc-1", evt(1))
}

func TestPublishIsolatedPerAuction(t *testing.T) {
	h := hub.New(slog.Default())
	s1 := h.Attach("auc-1", 4)
	s1.Start(nil)
	defer s1.Close()
	s2 := h.Attach("auc-2", 4)
	s2.Start(nil)
	defer s2.Close()

	h.Publish("auc-1", evt(1))

	e, ok := recv(t, s1)
	if !ok || e.Sequence != 1 {
		t.Fatalf("auc-1 subscriber got (%v, %v)", e, ok)
	}
	select {
	case e := <-s2.Events():
		t.Fatalf("auc-2 subscriber got foreign event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
