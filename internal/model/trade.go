package model

import "time"

// TradeSide distinguishes buys from sells.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Trade is one executed order, recorded in the journal after a fill.
type Trade struct {
	OrderNo    string    `json:"order_no"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Side       TradeSide `json:"side"`
	Qty        int64     `json:"qty"`
	Price      int64     `json:"price"` // won
	Reason     string    `json:"reason"`
	ProfitAmt  int64     `json:"profit_amt"`  // realized P&L in won, sells only
	ProfitRate float64   `json:"profit_rate"` // percent, sells only
	ExecutedAt time.Time `json:"executed_at"`
}

// DailyReport is a projection over one day's closed trades.
// It is recomputed from the journal at session end, never stored as state.
type DailyReport struct {
	Date      string `json:"date"` // YYYY-MM-DD in KST
	Trades    int    `json:"trades"`
	Sells     int    `json:"sells"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	NetProfit int64  `json:"net_profit"` // won
}

// WinRate returns wins over sells in percent, 0 on a zero-sell day.
func (r DailyReport) WinRate() float64 {
	if r.Sells == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Sells) * 100
}
