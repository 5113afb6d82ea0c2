// Package memstore is an in-memory store driver. It backs tests and local
// development; the postgres driver is the production backend.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/arjunsheth/auctioncore/internal/clock"
	"github.com/arjunsheth/auctioncore/internal/config"
	"github.com/arjunsheth/auctioncore/internal/event"
	"github.com/arjunsheth/auctioncore/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, _ clock.Clock) (*store.Repositories, error) {
		return New(), nil
	})
}

// memStore holds all records under one mutex. Transactions journal their
// writes and apply them on commit, so a failed transaction leaves no trace.
type memStore struct {
	mu sync.RWMutex

	seasons  map[string]store.Season
	teams    map[string]store.Team
	players  map[string]store.Player
	auctions map[string]store.Auction
	lots     map[string]store.Lot
	bids     map[string][]store.Bid               // by lot id
	rosters  map[string][]store.RosterEntry       // by team id
	budget   map[string][]store.BudgetTransaction // by team id
	events   map[string][]event.Event             // by auction id, sequence order
}

// New returns Repositories backed by process memory.
func New() *store.Repositories {
	m := &memStore{
		seasons:  make(map[string]store.Season),
		teams:    make(map[string]store.Team),
		players:  make(map[string]store.Player),
		auctions: make(map[string]store.Auction),
		lots:     make(map[string]store.Lot),
		bids:     make(map[string][]store.Bid),
		rosters:  make(map[string][]store.RosterEntry),
		budget:   make(map[string][]store.BudgetTransaction),
		events:   make(map[string][]event.Event),
	}
	return &store.Repositories{
		Seasons:  (*seasonRepo)(m),
		Teams:    (*teamRepo)(m),
		Players:  (*playerRepo)(m),
		Auctions: (*auctionRepo)(m),
		Lots:     (*lotRepo)(m),
		Bids:     (*bidRepo)(m),
		Rosters:  (*rosterRepo)(m),
		Budget:   (*budgetRepo)(m),
		Events:   (*eventStore)(m),
		InTx:     m.inTx,
		Close:    func() error { return nil },
		Ping:     func(context.Context) error { return nil },
	}
}

type seasonRepo memStore

func (r *seasonRepo) Create(_ context.Context, s *store.Season) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.seasons[s.ID]; exists {
		return fmt.Errorf("season %s already exists", s.ID)
	}
	r.seasons[s.ID] = *s
	return nil
}

func (r *seasonRepo) GetByID(_ context.Context, id string) (*store.Season, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.seasons[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type teamRepo memStore

func (r *teamRepo) Create(_ context.Context, t *store.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.teams[t.ID]; exists {
		return fmt.Errorf("team %s already exists", t.ID)
	}
	r.teams[t.ID] = *t
	return nil
}

func (r *teamRepo) GetByID(_ context.Context, id string) (*store.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *teamRepo) ListBySeason(_ context.Context, seasonID string) ([]store.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Team
	for _, t := range r.teams {
		if t.SeasonID == seasonID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type playerRepo memStore

func (r *playerRepo) Create(_ context.Context, p *store.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.players[p.ID]; exists {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	r.players[p.ID] = *p
	return nil
}

func (r *playerRepo) GetByID(_ context.Context, id string) (*store.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *playerRepo) ListBySeason(_ context.Context, seasonID string) ([]store.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Player
	for _, p := range r.players {
		if p.SeasonID == seasonID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type auctionRepo memStore

func (r *auctionRepo) Create(_ context.Context, a *store.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.auctions[a.ID]; exists {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	r.auctions[a.ID] = *a
	return nil
}

func (r *auctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *auctionRepo) ListByStatus(_ context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Auction
	for _, a := range r.auctions {
		for _, s := range statuses {
			if a.Status == s {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type lotRepo memStore

func (r *lotRepo) Create(_ context.Context, l *store.Lot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lots[l.ID]; exists {
		return fmt.Errorf("lot %s already exists", l.ID)
	}
	r.lots[l.ID] = *l
	return nil
}

func (r *lotRepo) GetByID(_ context.Context, id string) (*store.Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lots[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (r *lotRepo) ListByAuction(_ context.Context, auctionID string) ([]store.Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []store.Lot
	for _, l := range r.lots {
		if l.AuctionID == auctionID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotOrder < out[j].LotOrder })
	return out, nil
}

type bidRepo memStore

func (r *bidRepo) ListByLot(_ context.Context, lotID string) ([]store.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Bid, len(r.bids[lotID]))
	copy(out, r.bids[lotID])
	return out, nil
}

type rosterRepo memStore

func (r *rosterRepo) ListByTeam(_ context.Context, teamID string) ([]store.RosterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.RosterEntry, len(r.rosters[teamID]))
	copy(out, r.rosters[teamID])
	return out, nil
}

type budgetRepo memStore

func (r *budgetRepo) ListByTeam(_ context.Context, teamID string) ([]store.BudgetTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.BudgetTransaction, len(r.budget[teamID]))
	copy(out, r.budget[teamID])
	return out, nil
}

type eventStore memStore

func (r *eventStore) Append(_ context.Context, events ...event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		if err := (*memStore)(r).appendEventLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *eventStore) Load(_ context.Context, auctionID string) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]event.Event, len(r.events[auctionID]))
	copy(out, r.events[auctionID])
	return out, nil
}

func (r *eventStore) LoadSince(_ context.Context, auctionID string, after int64, limit int) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []event.Event
	for _, e := range r.events[auctionID] {
		if e.Sequence <= after {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *eventStore) LoadByType(_ context.Context, auctionID string, t event.Type) ([]event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []event.Event
	for _, e := range r.events[auctionID] {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *eventStore) LastSequence(_ context.Context, auctionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.events[auctionID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Sequence, nil
}

func (m *memStore) appendEventLocked(e event.Event) error {
	log := m.events[e.AuctionID]
	if len(log) > 0 && e.Sequence <= log[len(log)-1].Sequence {
		return fmt.Errorf("%w: auction %s sequence %d", store.ErrDuplicateSequence, e.AuctionID, e.Sequence)
	}
	m.events[e.AuctionID] = append(log, e)
	return nil
}

// memTx journals writes; inTx replays the journal against a clone and swaps
// it in only if every op succeeds, so a failed transaction leaves no trace.
type memTx struct {
	ops []func(*memStore) error
}

func (m *memStore) cloneLocked() *memStore {
	return &memStore{
		seasons:  maps.Clone(m.seasons),
		teams:    maps.Clone(m.teams),
		players:  maps.Clone(m.players),
		auctions: maps.Clone(m.auctions),
		lots:     maps.Clone(m.lots),
		bids:     maps.Clone(m.bids),
		rosters:  maps.Clone(m.rosters),
		budget:   maps.Clone(m.budget),
		events:   maps.Clone(m.events),
	}
}

func (m *memStore) inTx(_ context.Context, fn func(tx store.Tx) error) error {
	tx := &memTx{}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cloneLocked()
	for _, op := range tx.ops {
		if err := op(c); err != nil {
			return err
		}
	}
	m.seasons, m.teams, m.players = c.seasons, c.teams, c.players
	m.auctions, m.lots, m.bids = c.auctions, c.lots, c.bids
	m.rosters, m.budget, m.events = c.rosters, c.budget, c.events
	return nil
}

func (t *memTx) UpdateAuction(_ context.Context, a *store.Auction) error {
	rec := *a
	t.ops = append(t.ops, func(m *memStore) error {
		if _, ok := m.auctions[rec.ID]; !ok {
			return fmt.Errorf("auction %s not found", rec.ID)
		}
		m.auctions[rec.ID] = rec
		return nil
	})
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, l *store.Lot) error {
	rec := *l
	t.ops = append(t.ops, func(m *memStore) error {
		if _, ok := m.lots[rec.ID]; !ok {
			return fmt.Errorf("lot %s not found", rec.ID)
		}
		m.lots[rec.ID] = rec
		return nil
	})
	return nil
}

func (t *memTx) InsertBid(_ context.Context, b *store.Bid) error {
	rec := *b
	t.ops = append(t.ops, func(m *memStore) error {
		m.bids[rec.LotID] = append(m.bids[rec.LotID], rec)
		return nil
	})
	return nil
}

func (t *memTx) InsertRosterEntry(_ context.Context, r *store.RosterEntry) error {
	rec := *r
	t.ops = append(t.ops, func(m *memStore) error {
		for _, existing := range m.rosters[rec.TeamID] {
			if existing.PlayerID == rec.PlayerID {
				return fmt.Errorf("player %s already on roster of team %s", rec.PlayerID, rec.TeamID)
			}
		}
		m.rosters[rec.TeamID] = append(m.rosters[rec.TeamID], rec)
		return nil
	})
	return nil
}

func (t *memTx) InsertBudgetTransaction(_ context.Context, bt *store.BudgetTransaction) error {
	rec := *bt
	t.ops = append(t.ops, func(m *memStore) error {
		m.budget[rec.TeamID] = append(m.budget[rec.TeamID], rec)
		return nil
	})
	return nil
}

func (t *memTx) UpdateTeamSpent(_ context.Context, teamID string, delta int64) error {
	t.ops = append(t.ops, func(m *memStore) error {
		team, ok := m.teams[teamID]
		if !ok {
			return fmt.Errorf("team %s not found", teamID)
		}
		team.BudgetSpent += delta
		m.teams[teamID] = team
		return nil
	})
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e *event.Event) error {
	rec := *e
	t.ops = append(t.ops, func(m *memStore) error {
		return m.appendEventLocked(rec)
	})
	return nil
}
