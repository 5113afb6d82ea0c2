package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

// Projection is auction state folded from the event log alone. A consumer
// that replays the full log arrives at the same auction status, current lot,
// price and per-team spend that the engine holds in memory.
type Projection struct {
	AuctionStatus store.AuctionStatus
	CurrentLotID  string
	CurrentPrice  int64
	EndsAt        *time.Time
	SpentByTeam   map[string]int64
	LastSequence  int64
}

// Replay folds an ordered event slice into a Projection. The slice must be
// gap-free from sequence 1; a gap or an undecodable payload is an error.
func Replay(events []event.Event) (*Projection, error) {
	p := &Projection{
		AuctionStatus: store.AuctionNotStarted,
		SpentByTeam:   make(map[string]int64),
	}

	for _, evt := range events {
		if evt.Sequence != p.LastSequence+1 {
			return nil, fmt.Errorf("event log gap: sequence %d follows %d", evt.Sequence, p.LastSequence)
		}
		p.LastSequence = evt.Sequence

		switch evt.Type {
		case event.AuctionStarted:
			p.AuctionStatus = store.AuctionInProgress

		case event.AuctionPaused:
			p.AuctionStatus = store.AuctionPaused
			p.EndsAt = nil

		case event.AuctionResumed:
			var data event.AuctionResumedData
			if err := decode(evt, &data); err != nil {
				return nil, err
			}
			p.AuctionStatus = store.AuctionInProgress
			if data.NewEndsAt != nil {
				t := *data.NewEndsAt
				p.EndsAt = &t
			}

		case event.AuctionEnded:
			p.AuctionStatus = store.AuctionCompleted
			p.EndsAt = nil

		case event.LotStarted:
			var data event.LotStartedData
			if err := decode(evt, &data); err != nil {
				return nil, err
			}
			p.CurrentLotID = data.LotID
			p.CurrentPrice = data.BasePrice
			t := data.EndsAt
			p.EndsAt = &t

		case event.BidPlaced:
			var data event.BidPlacedData
			if err := decode(evt, &data); err != nil {
				return nil, err
			}
			p.CurrentPrice = data.Amount

		case event.LotExtended:
			var data event.LotExtendedData
			if err := decode(evt, &data); err != nil {
				return nil, err
			}
			t := data.NewEndsAt
			p.EndsAt = &t

		case event.LotSold:
			var data event.LotSoldData
			if err := decode(evt, &data); err != nil {
				return nil, err
			}
			p.SpentByTeam[data.TeamID] += data.FinalPrice
			p.CurrentPrice = data.FinalPrice
			p.EndsAt = nil

		case event.LotUnsold:
			p.EndsAt = nil

		default:
			return nil, fmt.Errorf("unknown event type %q at sequence %d", evt.Type, evt.Sequence)
		}
	}
	return p, nil
}

func decode(evt event.Event, into any) error {
	if err := json.Unmarshal(evt.Data, into); err != nil {
		return fmt.Errorf("decoding %s payload at sequence %d: %w", evt.Type, evt.Sequence, err)
	}
	return nil
}
