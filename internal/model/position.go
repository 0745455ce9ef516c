package model

import "time"

// EntryStage tracks whether a position has been averaged down.
type EntryStage string

const (
	// StageFirst is a position holding only its first tranche.
	StageFirst EntryStage = "FIRST"
	// StageAveragedDown is a position after its one allowed averaging-down buy.
	StageAveragedDown EntryStage = "AVERAGED_DOWN"
)

// Position represents one open holding.
// Prices are int64 Korean won (KRW has no minor unit) to avoid float drift.
type Position struct {
	Symbol    string     `json:"symbol"` // 6-digit KRX code
	Name      string     `json:"name"`
	Stage     EntryStage `json:"stage"`
	Qty       int64      `json:"qty"`
	AvgPrice  int64      `json:"avg_price"` // volume-weighted entry price in won
	OpenedAt  time.Time  `json:"opened_at"` // time of first buy
	LastPrice int64      `json:"last_price"`

	// Exit parameters, fixed at entry.
	TakeProfitPct float64 `json:"take_profit_pct"` // e.g. 8.0 = sell at +8%
	StopLossPct   float64 `json:"stop_loss_pct"`   // e.g. 5.0 = sell at -5%
	RebuyDropPct  float64 `json:"rebuy_drop_pct"`  // e.g. 3.0 = average down at -3%

	// Capital earmarked in the ledger for this symbol, released on full exit.
	AllocatedCapital int64 `json:"allocated_capital"`

	// ExitPending is set when a sell order failed and must be retried with
	// priority next cycle. A failed exit is never silently dropped.
	ExitPending       bool   `json:"exit_pending"`
	ExitPendingReason string `json:"exit_pending_reason,omitempty"`
}

// ProfitRate returns the current return over average cost in percent.
func (p *Position) ProfitRate(price int64) float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	return float64(price-p.AvgPrice) / float64(p.AvgPrice) * 100
}

// UnrealizedPnL computes unrealized profit/loss in won at the given price.
func (p *Position) UnrealizedPnL(price int64) int64 {
	return (price - p.AvgPrice) * p.Qty
}

// HoldingDays returns whole days elapsed since the first buy.
func (p *Position) HoldingDays(now time.Time) int {
	return int(now.Sub(p.OpenedAt).Hours() / 24)
}
