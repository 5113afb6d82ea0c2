// Package event defines the typed per-auction event log. Sequence numbers
// are 1-origin and gap-free per auction; the log is the sync protocol for
// late and reconnecting subscribers.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionStarted Type = "auction.started"
	AuctionPaused  Type = "auction.paused"
	AuctionResumed Type = "auction.resumed"
	AuctionEnded   Type = "auction.ended"

	LotStarted  Type = "lot.started"
	LotExtended Type = "lot.extended"
	LotSold     Type = "lot.sold"
	LotUnsold   Type = "lot.unsold"

	BidPlaced Type = "bid.placed"
)

// Event represents a single entry in an auction's event log.
type Event struct {
	ID        string          `json:"id" db:"id"`
	AuctionID string          `json:"auction_id" db:"auction_id"`
	Sequence  int64           `json:"sequence" db:"sequence"`
	Type      Type            `json:"type" db:"type"`
	Data      json.RawMessage `json:"data" db:"data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AuctionStartedData is the payload for AuctionStarted events.
type AuctionStartedData struct {
	AuctionID string    `json:"auction_id"`
	At        time.Time `json:"t"`
}

// AuctionPausedData is the payload for AuctionPaused events.
type AuctionPausedData struct {
	AuctionID string    `json:"auction_id"`
	At        time.Time `json:"t"`
}

// AuctionResumedData is the payload for AuctionResumed events.
// NewEndsAt is set when a lot was in progress at pause time.
type AuctionResumedData struct {
	AuctionID string     `json:"auction_id"`
	At        time.Time  `json:"t"`
	NewEndsAt *time.Time `json:"new_ends_at,omitempty"`
}

// AuctionEndedData is the payload for AuctionEnded events.
type AuctionEndedData struct {
	AuctionID string    `json:"auction_id"`
	At        time.Time `json:"t"`
}

// LotStartedData is the payload for LotStarted events.
type LotStartedData struct {
	LotID      string    `json:"lot_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player"`
	BasePrice  int64     `json:"base_price"`
	EndsAt     time.Time `json:"ends_at"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	LotID    string    `json:"lot_id"`
	TeamID   string    `json:"team_id"`
	Amount   int64     `json:"amount"`
	At       time.Time `json:"t"`
	PlacedBy string    `json:"placed_by,omitempty"` // audit only
}

// LotExtendedData is the payload for LotExtended events.
type LotExtendedData struct {
	LotID          string    `json:"lot_id"`
	NewEndsAt      time.Time `json:"new_ends_at"`
	ExtensionsUsed int       `json:"extensions_used"`
}

// LotSoldData is the payload for LotSold events.
type LotSoldData struct {
	LotID      string `json:"lot_id"`
	TeamID     string `json:"team_id"`
	FinalPrice int64  `json:"final_price"`
}

// LotUnsoldData is the payload for LotUnsold events.
type LotUnsoldData struct {
	LotID  string `json:"lot_id"`
	Forced bool   `json:"forced,omitempty"`
}
