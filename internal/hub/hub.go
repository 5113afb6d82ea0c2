// Package hub fans auction events out to concurrent subscribers. Each
// subscriber owns one bounded channel; the hub never blocks a publisher,
// and a subscriber that cannot keep up is dropped with ErrSlowConsumer so
// it can reconnect from its last seen sequence.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/arjunsheth/auctioncore/internal/event"
)

// ErrSlowConsumer is reported by Subscription.Err after the hub dropped the
// subscriber for not draining its buffer.
var ErrSlowConsumer = errors.New("subscriber dropped: too slow")

// Hub registers subscribers per auction and delivers events in sequence
// order. Attachment and publication are serialized by the hub mutex; the
// engine calls both under its per-auction serialization token, so a
// subscriber attached after a replay read observes no gap and no duplicate.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Attach registers a subscriber for an auction with a bounded live buffer.
// Events published after Attach returns are delivered to it. The caller
// must invoke Start exactly once to begin delivery.
func (h *Hub) Attach(auctionID string, buffer int) *Subscription {
	s := &Subscription{
		hub:       h,
		auctionID: auctionID,
		live:      make(chan event.Event, buffer),
		out:       make(chan event.Event),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.subs[auctionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[auctionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish delivers events to every live subscriber of the auction. It never
// blocks: a subscriber whose buffer is full is dropped.
func (h *Hub) Publish(auctionID string, events ...event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[auctionID]
	for s := range set {
		for _, e := range events {
			select {
			case s.live <- e:
			default:
				s.err = ErrSlowConsumer
				h.detachLocked(s)
				h.logger.Warn("subscriber dropped: buffer full",
					slog.String("auction_id", auctionID),
					slog.Int64("sequence", e.Sequence),
				)
			}
			if s.detached {
				break
			}
		}
	}
}

// SubscriberCount reports the live subscribers for an auction.
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[auctionID])
}

// detachLocked removes s from the registry and closes its live channel.
// All sends to live happen under h.mu, so closing here is safe.
func (h *Hub) detachLocked(s *Subscription) {
	if s.detached {
		return
	}
	s.detached = true
	set := h.subs[s.auctionID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.auctionID)
	}
	close(s.live)
}

// Subscription is a single subscriber's view of an auction's event stream.
type Subscription struct {
	hub       *Hub
	auctionID string

	live chan event.Event // hub -> pump, bounded
	out  chan event.Event // pump -> consumer

	done      chan struct{}
	closeOnce sync.Once

	// err and detached are guarded by hub.mu.
	err      error
	detached bool
}

// Start begins delivery: first the replay slice (events persisted before
// attachment), then the live stream. It must be called exactly once.
func (s *Subscription) Start(replay []event.Event) {
	go s.run(replay)
}

// Events returns the delivery channel. It is closed when the subscription
// ends; check Err to distinguish a drop from a clean close.
func (s *Subscription) Events() <-chan event.Event { return s.out }

// Err reports why the stream ended. ErrSlowConsumer after a drop, nil after
// Close or hub shutdown.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close detaches the subscriber and releases its buffers. In-flight events
// are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		s.hub.detachLocked(s)
		s.hub.mu.Unlock()
	})
}

func (s *Subscription) run(replay []event.Event) {
	defer close(s.out)
	for _, e := range replay {
		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
	for {
		select {
		case e, ok := <-s.live:
			if !ok {
				// Detached: drained everything buffered before the drop.
				return
			}
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
