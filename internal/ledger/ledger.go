// Package ledger tracks total capital and per-symbol allocations, and
// enforces the allocation invariants: sum(allocated) never exceeds total
// capital, a symbol never exceeds its cap, and the number of allocated
// symbols stays within the concurrent-position limit.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientCapital means the request would breach total capital.
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrPerSymbolCapExceeded means the symbol would exceed its cap.
	ErrPerSymbolCapExceeded = errors.New("per-symbol cap exceeded")
	// ErrTooManyPositions means a new symbol would exceed the position limit.
	ErrTooManyPositions = errors.New("too many concurrent positions")
)

// Reservation is the handle returned by a successful Authorize.
type Reservation struct {
	Symbol string
	Amount int64 // won
}

// Ledger is the single authoritative capital account for a trading session.
// The engine's decision goroutine is the only writer; the mutex exists for
// read-only snapshot callers (admin API, metrics).
type Ledger struct {
	mu sync.RWMutex

	totalCapital int64
	perSymbolCap int64
	maxPositions int
	allocated    map[string]int64
}

// New creates a Ledger. All amounts are won.
func New(totalCapital, perSymbolCap int64, maxPositions int) *Ledger {
	return &Ledger{
		totalCapital: totalCapital,
		perSymbolCap: perSymbolCap,
		maxPositions: maxPositions,
		allocated:    make(map[string]int64),
	}
}

// Authorize atomically earmarks amount for symbol. A symbol may be topped up
// (averaging down) as long as its running total stays within the per-symbol
// cap; only a first-time symbol counts against the position limit.
func (l *Ledger) Authorize(symbol string, amount int64) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("ledger: non-positive amount %d for %s", amount, symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.allocated[symbol]
	if !exists && len(l.allocated) >= l.maxPositions {
		return Reservation{}, fmt.Errorf("ledger: %s: %w", symbol, ErrTooManyPositions)
	}
	if current+amount > l.perSymbolCap {
		return Reservation{}, fmt.Errorf("ledger: %s: %w", symbol, ErrPerSymbolCapExceeded)
	}
	if l.sumLocked()+amount > l.totalCapital {
		return Reservation{}, fmt.Errorf("ledger: %s: %w", symbol, ErrInsufficientCapital)
	}

	l.allocated[symbol] = current + amount
	return Reservation{Symbol: symbol, Amount: amount}, nil
}

// Release returns the symbol's full allocation to free capital.
// Idempotent: releasing a symbol with no allocation is a no-op.
func (l *Ledger) Release(symbol string) {
	l.mu.Lock()
	delete(l.allocated, symbol)
	l.mu.Unlock()
}

// Refund undoes a single reservation after a failed buy. Earlier
// allocations for the same symbol stay intact.
func (l *Ledger) Refund(r Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rem := l.allocated[r.Symbol] - r.Amount
	if rem <= 0 {
		delete(l.allocated, r.Symbol)
		return
	}
	l.allocated[r.Symbol] = rem
}

// Available returns total capital minus the sum of all allocations.
func (l *Ledger) Available() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalCapital - l.sumLocked()
}

// Allocated returns the amount currently earmarked for symbol.
func (l *Ledger) Allocated(symbol string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allocated[symbol]
}

// RemainingCap returns how much more the symbol could still be allocated
// before hitting the per-symbol cap.
func (l *Ledger) RemainingCap(symbol string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perSymbolCap - l.allocated[symbol]
}

// OpenSlots returns how many new symbols could still be authorized.
func (l *Ledger) OpenSlots() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxPositions - len(l.allocated)
}

// Snapshot returns a copy of the allocation map for read-only callers.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int64, len(l.allocated))
	for sym, amt := range l.allocated {
		out[sym] = amt
	}
	return out
}

// TotalCapital returns the configured session capital.
func (l *Ledger) TotalCapital() int64 { return l.totalCapital }

// PerSymbolCap returns the configured per-symbol cap.
func (l *Ledger) PerSymbolCap() int64 { return l.perSymbolCap }

// CheckInvariants verifies the internal accounting. A failure here is fatal
// to the session: continuing on a corrupted ledger risks real money.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if sum := l.sumLocked(); sum > l.totalCapital {
		return fmt.Errorf("ledger invariant violated: allocated %d > total %d", sum, l.totalCapital)
	}
	if len(l.allocated) > l.maxPositions {
		return fmt.Errorf("ledger invariant violated: %d symbols > limit %d", len(l.allocated), l.maxPositions)
	}
	for sym, amt := range l.allocated {
		if amt <= 0 {
			return fmt.Errorf("ledger invariant violated: %s allocation %d", sym, amt)
		}
		if amt > l.perSymbolCap {
			return fmt.Errorf("ledger invariant violated: %s allocation %d > cap %d", sym, amt, l.perSymbolCap)
		}
	}
	return nil
}

func (l *Ledger) sumLocked() int64 {
	var sum int64
	for _, amt := range l.allocated {
		sum += amt
	}
	return sum
}
