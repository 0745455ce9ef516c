// Package notification delivers trading alerts to external channels
// (Telegram, webhooks) and formats the engine's events into messages.
package notification

import (
	"context"
	"fmt"
	"log"

	"rebound-trader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts locally (useful for development and paper runs).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several backends. Delivery failures are
// logged, never propagated; an alert must not stall the trading cycle.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}
	return nil
}

// EntryAlert formats a buy fill.
func EntryAlert(t model.Trade) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("BUY %s %s", t.Symbol, t.Name),
		Message: fmt.Sprintf("qty %d @ %d won (%s), order %s",
			t.Qty, t.Price, t.Reason, t.OrderNo),
	}
}

// ExitAlert formats a sell fill with realized P&L.
func ExitAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.ProfitAmt < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("SELL %s %s", t.Symbol, t.Name),
		Message: fmt.Sprintf("qty %d @ %d won, P&L %+d won (%+.2f%%), %s",
			t.Qty, t.Price, t.ProfitAmt, t.ProfitRate, t.Reason),
	}
}

// ExitStuckAlert reports a sell that failed and is flagged for retry.
func ExitStuckAlert(symbol, reason string, err error) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   fmt.Sprintf("EXIT PENDING %s", symbol),
		Message: fmt.Sprintf("sell failed (%s): %v; will retry next cycle", reason, err),
	}
}

// ReportAlert formats the end-of-day summary.
func ReportAlert(r model.DailyReport) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Daily report %s", r.Date),
		Message: fmt.Sprintf("trades %d, sells %d, wins %d, losses %d, win rate %.0f%%, net %+d won",
			r.Trades, r.Sells, r.Wins, r.Losses, r.WinRate(), r.NetProfit),
	}
}
