// Package engine runs the decision loop: reconcile at startup, then each
// cycle evaluate exits first, entries second, snapshot state last. A single
// goroutine makes every trading decision; parallelism exists only in the
// read-only quote fan-out inside the scanner.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rebound-trader/internal/admin"
	"rebound-trader/internal/broker"
	"rebound-trader/internal/exits"
	"rebound-trader/internal/ledger"
	"rebound-trader/internal/markethours"
	"rebound-trader/internal/metrics"
	"rebound-trader/internal/model"
	"rebound-trader/internal/notification"
	"rebound-trader/internal/position"
	"rebound-trader/internal/scanner"
)

// State is the engine's session phase.
type State int

const (
	StatePreMarket State = iota
	StateScanning
	StateReporting
	StateIdle
)

func (s State) String() string {
	switch s {
	case StatePreMarket:
		return "PRE_MARKET"
	case StateScanning:
		return "SCANNING"
	case StateReporting:
		return "REPORTING"
	case StateIdle:
		return "IDLE"
	}
	return "UNKNOWN"
}

// TradeJournal is the durable trade log the engine writes to.
type TradeJournal interface {
	Record(ctx context.Context, t model.Trade) error
	ReportFor(ctx context.Context, day time.Time) (model.DailyReport, error)
}

// StateStore persists engine-private position state for crash recovery.
type StateStore interface {
	SavePositions(ctx context.Context, positions []model.Position) error
	LoadPositions(ctx context.Context) ([]model.Position, error)
	SaveLedger(ctx context.Context, allocations map[string]int64) error
	LoadLedger(ctx context.Context) (map[string]int64, error)
}

// WatchSymbol pairs a watchlist symbol with its entry parameters.
type WatchSymbol struct {
	Symbol string
	Name   string
	Params position.EntryParams
}

// Config tunes the engine.
type Config struct {
	FirstStageFraction float64
	MaxHoldingDays     int
	ScanInterval       time.Duration

	// RetrainCmd, when set, is run with `sh -c` at the weekly retrain
	// window.
	RetrainCmd string
}

// Deps wires the engine's collaborators. Journal, Snapshot, Metrics and
// Health may be nil in tests.
type Deps struct {
	Broker    broker.Broker
	Scanner   *scanner.Scanner
	Watchlist []WatchSymbol
	Ledger    *ledger.Ledger
	Positions *position.Store
	Journal   TradeJournal
	Snapshot  StateStore
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
}

// Engine is the trading orchestrator.
type Engine struct {
	cfg    Config
	broker broker.Broker
	scan   *scanner.Scanner
	ledger *ledger.Ledger
	store  *position.Store
	journ  TradeJournal
	snap   StateStore
	notify notification.Notifier
	mtr    *metrics.Metrics
	health *metrics.HealthStatus
	policy exits.Policy

	scanList []scanner.WatchItem
	params   map[string]position.EntryParams
	defaults position.EntryParams

	// mu serializes decision work: the cycle loop, reconciliation and
	// manual liquidation never run concurrently.
	mu     sync.Mutex
	state  State
	halted map[string]bool
}

// New creates an Engine. Watchlist entry parameters drive both scanning
// and the exit targets stamped onto new positions.
func New(cfg Config, deps Deps) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}

	e := &Engine{
		cfg:    cfg,
		broker: deps.Broker,
		scan:   deps.Scanner,
		ledger: deps.Ledger,
		store:  deps.Positions,
		journ:  deps.Journal,
		snap:   deps.Snapshot,
		notify: deps.Notifier,
		mtr:    deps.Metrics,
		health: deps.Health,
		policy: exits.Policy{MaxHoldingDays: cfg.MaxHoldingDays},
		params: make(map[string]position.EntryParams, len(deps.Watchlist)),
		halted: make(map[string]bool),
		state:  StateIdle,
	}
	for _, w := range deps.Watchlist {
		e.scanList = append(e.scanList, scanner.WatchItem{Symbol: w.Symbol, Name: w.Name})
		e.params[w.Symbol] = w.Params
	}
	if len(deps.Watchlist) > 0 {
		e.defaults = deps.Watchlist[0].Params
	}
	return e
}

// SetDefaultParams sets the exit parameters used for positions adopted
// from the broker that are not on the watchlist.
func (e *Engine) SetDefaultParams(p position.EntryParams) {
	e.defaults = p
}

func (e *Engine) paramsFor(symbol, name string) position.EntryParams {
	if p, ok := e.params[symbol]; ok {
		return p
	}
	p := e.defaults
	p.Name = name
	return p
}

// State returns the current session phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state != s {
		log.Printf("[engine] state %s -> %s", e.state, s)
		e.state = s
	}
	e.mu.Unlock()
}

// Run drives the engine until ctx is cancelled. An in-flight cycle always
// finishes; cancellation is only observed between cycles.
func (e *Engine) Run(ctx context.Context) {
	if e.health != nil {
		e.health.SetEngineRunning(true)
		defer e.health.SetEngineRunning(false)
	}

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	log.Printf("[engine] running, scan interval %s", e.cfg.ScanInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[engine] shutdown requested, stopping after current cycle")
			return
		case <-ticker.C:
			now := time.Now().In(markethours.KST)
			if markethours.IsMarketOpen(now) {
				if e.mtr != nil {
					e.mtr.MarketState.Set(1)
				}
				e.setState(StateScanning)
				e.RunCycle(ctx, now)
				continue
			}
			if e.mtr != nil {
				e.mtr.MarketState.Set(0)
			}
			if markethours.IsTradingDay(now) && now.Before(markethours.TodayClose(now)) {
				e.setState(StatePreMarket)
			} else {
				e.setState(StateIdle)
			}
		}
	}
}

// Positions returns a snapshot of all open positions.
func (e *Engine) Positions() []model.Position {
	return e.store.All()
}

// Ledger returns the capital ledger view for the admin API.
func (e *Engine) Ledger() admin.LedgerView {
	return admin.LedgerView{
		TotalCapital: e.ledger.TotalCapital(),
		PerSymbolCap: e.ledger.PerSymbolCap(),
		Allocated:    e.ledger.Snapshot(),
		Available:    e.ledger.Available(),
		OpenSlots:    e.ledger.OpenSlots(),
	}
}

// Report builds the daily report for the given day from the journal.
func (e *Engine) Report(ctx context.Context, day time.Time) (model.DailyReport, error) {
	if e.journ == nil {
		return model.DailyReport{}, errors.New("engine: no journal configured")
	}
	return e.journ.ReportFor(ctx, day)
}

// Liquidate force-sells the full position in symbol at market. Serialized
// with the decision cycle.
func (e *Engine) Liquidate(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.store.Get(symbol)
	if !ok {
		return fmt.Errorf("engine: no open position for %s", symbol)
	}

	price, err := e.broker.GetCurrentPrice(ctx, symbol)
	if err != nil {
		price = pos.LastPrice
	}
	if price <= 0 {
		price = pos.AvgPrice
	}

	log.Printf("[engine] manual liquidation of %s requested", symbol)
	if err := e.sellAll(ctx, pos, price, "manual liquidation", "manual", time.Now().In(markethours.KST)); err != nil {
		return err
	}
	e.saveSnapshot(ctx)
	return nil
}

var _ admin.Engine = (*Engine)(nil)
