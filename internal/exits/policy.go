// Package exits decides what to do with an open position at the current
// price. Rules are evaluated in a fixed order so at most one action fires
// per position per cycle: time stop, stop loss, take profit, then
// averaging down.
package exits

import (
	"fmt"
	"time"

	"rebound-trader/internal/model"
)

// Action is the single decision for one position in one cycle.
type Action int

const (
	ActionNone Action = iota
	ActionRetryExit
	ActionTimeStop
	ActionStopLoss
	ActionTakeProfit
	ActionAverageDown
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionRetryExit:
		return "RETRY_EXIT"
	case ActionTimeStop:
		return "TIME_STOP"
	case ActionStopLoss:
		return "STOP_LOSS"
	case ActionTakeProfit:
		return "TAKE_PROFIT"
	case ActionAverageDown:
		return "AVERAGE_DOWN"
	}
	return "UNKNOWN"
}

// IsSell reports whether the action liquidates the position.
func (a Action) IsSell() bool {
	switch a {
	case ActionRetryExit, ActionTimeStop, ActionStopLoss, ActionTakeProfit:
		return true
	}
	return false
}

// Decision carries the chosen action with its reason for journaling and
// alerts.
type Decision struct {
	Action     Action
	Symbol     string
	Reason     string
	ProfitRate float64
}

// Policy holds the portfolio-wide exit rules. Per-symbol target rates live
// on the position itself.
type Policy struct {
	// MaxHoldingDays forces liquidation once a position has been held
	// this many calendar days, regardless of price.
	MaxHoldingDays int
}

// Evaluate applies the exit rules to one position. A pending exit from an
// earlier failed sell always retries first.
func (p Policy) Evaluate(pos *model.Position, price int64, now time.Time) Decision {
	rate := pos.ProfitRate(price)
	d := Decision{Action: ActionNone, Symbol: pos.Symbol, ProfitRate: rate}

	if pos.ExitPending {
		d.Action = ActionRetryExit
		d.Reason = pos.ExitPendingReason
		return d
	}

	if days := pos.HoldingDays(now); days >= p.MaxHoldingDays {
		d.Action = ActionTimeStop
		d.Reason = fmt.Sprintf("held %d days (limit %d)", days, p.MaxHoldingDays)
		return d
	}

	if rate <= -pos.StopLossPct {
		d.Action = ActionStopLoss
		d.Reason = fmt.Sprintf("loss %.2f%% breached -%.1f%%", rate, pos.StopLossPct)
		return d
	}

	if rate >= pos.TakeProfitPct {
		d.Action = ActionTakeProfit
		d.Reason = fmt.Sprintf("profit %.2f%% reached +%.1f%%", rate, pos.TakeProfitPct)
		return d
	}

	if pos.Stage == model.StageFirst && rate <= -pos.RebuyDropPct {
		d.Action = ActionAverageDown
		d.Reason = fmt.Sprintf("drop %.2f%% past -%.1f%%, averaging down", rate, pos.RebuyDropPct)
		return d
	}

	return d
}
