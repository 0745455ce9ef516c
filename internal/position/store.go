// Package position holds the authoritative in-memory record of open
// positions for one trading session. The engine's decision goroutine is the
// only writer; everyone else gets snapshot copies.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"rebound-trader/internal/model"
)

var (
	// ErrNotFound means the symbol has no open position.
	ErrNotFound = errors.New("position not found")
	// ErrDuplicateAveraging means the position was already averaged down
	// once; a second top-up would stack unbounded risk.
	ErrDuplicateAveraging = errors.New("position already averaged down")
)

// Store maps symbol to its single open Position.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{positions: make(map[string]*model.Position)}
}

// EntryParams carries the per-entry exit configuration for UpsertEntry.
type EntryParams struct {
	Name          string
	TakeProfitPct float64
	StopLossPct   float64
	RebuyDropPct  float64
}

// UpsertEntry records a buy fill. A new symbol creates a FIRST-stage
// position; an existing one transitions to AVERAGED_DOWN with the average
// cost recomputed as the volume-weighted mean. At most one averaging-down
// is allowed per position lifetime.
func (s *Store) UpsertEntry(symbol string, price, qty, allocated int64, now time.Time, params EntryParams) (*model.Position, error) {
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("position: invalid entry %s qty=%d price=%d", symbol, qty, price)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.positions[symbol]
	if !exists {
		pos = &model.Position{
			Symbol:           symbol,
			Name:             params.Name,
			Stage:            model.StageFirst,
			Qty:              qty,
			AvgPrice:         price,
			LastPrice:        price,
			OpenedAt:         now,
			TakeProfitPct:    params.TakeProfitPct,
			StopLossPct:      params.StopLossPct,
			RebuyDropPct:     params.RebuyDropPct,
			AllocatedCapital: allocated,
		}
		s.positions[symbol] = pos
		return copyOf(pos), nil
	}

	if pos.Stage == model.StageAveragedDown {
		return nil, fmt.Errorf("position: %s: %w", symbol, ErrDuplicateAveraging)
	}

	total := pos.AvgPrice*pos.Qty + price*qty
	pos.Qty += qty
	pos.AvgPrice = total / pos.Qty
	pos.Stage = model.StageAveragedDown
	pos.LastPrice = price
	pos.AllocatedCapital += allocated
	return copyOf(pos), nil
}

// Restore inserts a fully-formed position, used by startup reconciliation.
// Fails if the symbol already exists.
func (s *Store) Restore(pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[pos.Symbol]; exists {
		return fmt.Errorf("position: restore: %s already present", pos.Symbol)
	}
	cp := pos
	s.positions[pos.Symbol] = &cp
	return nil
}

// Remove deletes and returns the position for symbol.
func (s *Store) Remove(symbol string) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, exists := s.positions[symbol]
	if !exists {
		return model.Position{}, fmt.Errorf("position: %s: %w", symbol, ErrNotFound)
	}
	delete(s.positions, symbol)
	return *pos, nil
}

// Get returns a copy of the position for symbol.
func (s *Store) Get(symbol string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, exists := s.positions[symbol]
	if !exists {
		return model.Position{}, false
	}
	return *pos, true
}

// Has reports whether the symbol has an open position.
func (s *Store) Has(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.positions[symbol]
	return exists
}

// Len returns the number of open positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// All returns a snapshot copy of every open position, safe to iterate while
// the store is mutated between exit decisions.
func (s *Store) All() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	return out
}

// UpdatePrice records the latest observed price for a symbol, if held.
func (s *Store) UpdatePrice(symbol string, price int64) {
	s.mu.Lock()
	if pos, ok := s.positions[symbol]; ok {
		pos.LastPrice = price
	}
	s.mu.Unlock()
}

// SetExitPending flags (or clears) a position whose sell order failed and
// must be retried with priority next cycle.
func (s *Store) SetExitPending(symbol string, pending bool, reason string) {
	s.mu.Lock()
	if pos, ok := s.positions[symbol]; ok {
		pos.ExitPending = pending
		pos.ExitPendingReason = reason
	}
	s.mu.Unlock()
}

func copyOf(p *model.Position) *model.Position {
	cp := *p
	return &cp
}
