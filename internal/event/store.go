package event

import "context"

// Store persists and retrieves auction events. Append is also exposed on
// the store's transactional variant so an event commits atomically with the
// state writes that produced it.
type Store interface {
	// Append persists one or more events. The (auction_id, sequence) pair
	// is uniquely constrained; the caller serializes allocation per auction.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an auction, ordered by sequence.
	Load(ctx context.Context, auctionID string) ([]Event, error)
	// LoadSince returns events with sequence > after, ordered by sequence.
	// limit <= 0 means no bound.
	LoadSince(ctx context.Context, auctionID string, after int64, limit int) ([]Event, error)
	// LoadByType returns the events of one type for an auction, ordered by
	// sequence.
	LoadByType(ctx context.Context, auctionID string, t Type) ([]Event, error)
	// LastSequence returns the highest allocated sequence for an auction,
	// or 0 if none.
	LastSequence(ctx context.Context, auctionID string) (int64, error)
}
