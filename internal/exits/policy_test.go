package exits

import (
	"testing"
	"time"

	"rebound-trader/internal/model"
)

var kst = time.FixedZone("KST", 9*3600)

func newPos(stage model.EntryStage, avgPrice int64, openedAt time.Time) *model.Position {
	return &model.Position{
		Symbol:        "005930",
		Stage:         stage,
		Qty:           10,
		AvgPrice:      avgPrice,
		OpenedAt:      openedAt,
		TakeProfitPct: 8,
		StopLossPct:   5,
		RebuyDropPct:  3,
	}
}

func TestPolicy_TakeProfitAtTarget(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	pos := newPos(model.StageFirst, 10000, now.Add(-24*time.Hour))
	p := Policy{MaxHoldingDays: 5}

	cases := []struct {
		name  string
		price int64
		want  Action
	}{
		{"exactly at target", 10800, ActionTakeProfit},
		{"just below target", 10799, ActionNone},
		{"above target", 11000, ActionTakeProfit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Evaluate(pos, tc.price, now).Action; got != tc.want {
				t.Errorf("price %d: action = %s, want %s", tc.price, got, tc.want)
			}
		})
	}
}

func TestPolicy_StopLossAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	pos := newPos(model.StageAveragedDown, 10000, now.Add(-24*time.Hour))
	p := Policy{MaxHoldingDays: 5}

	if got := p.Evaluate(pos, 9500, now).Action; got != ActionStopLoss {
		t.Errorf("-5.0%%: action = %s, want STOP_LOSS", got)
	}
	if got := p.Evaluate(pos, 9501, now).Action; got == ActionStopLoss {
		t.Errorf("-4.99%% must not trigger stop loss")
	}
}

func TestPolicy_TimeStopBeatsPrice(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	pos := newPos(model.StageFirst, 10000, now.AddDate(0, 0, -5))
	p := Policy{MaxHoldingDays: 5}

	// Even a position sitting at +10% sells on the holding-day limit.
	d := p.Evaluate(pos, 11000, now)
	if d.Action != ActionTimeStop {
		t.Fatalf("action = %s, want TIME_STOP", d.Action)
	}
	if !d.Action.IsSell() {
		t.Error("time stop must liquidate")
	}
}

func TestPolicy_StopLossBeatsAveragingDown(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	pos := newPos(model.StageFirst, 10000, now.Add(-24*time.Hour))
	p := Policy{MaxHoldingDays: 5}

	// -6% clears both the rebuy drop (-3%) and the stop loss (-5%);
	// the stop loss wins.
	if got := p.Evaluate(pos, 9400, now).Action; got != ActionStopLoss {
		t.Errorf("action = %s, want STOP_LOSS", got)
	}
}

func TestPolicy_AverageDownOnlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	p := Policy{MaxHoldingDays: 5}

	first := newPos(model.StageFirst, 10000, now.Add(-24*time.Hour))
	if got := p.Evaluate(first, 9700, now).Action; got != ActionAverageDown {
		t.Errorf("first stage at -3%%: action = %s, want AVERAGE_DOWN", got)
	}

	averaged := newPos(model.StageAveragedDown, 10000, now.Add(-24*time.Hour))
	if got := p.Evaluate(averaged, 9700, now).Action; got != ActionNone {
		t.Errorf("averaged-down stage at -3%%: action = %s, want NONE", got)
	}
}

func TestPolicy_PendingExitRetriesFirst(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, kst)
	pos := newPos(model.StageFirst, 10000, now.Add(-24*time.Hour))
	pos.ExitPending = true
	pos.ExitPendingReason = "profit 8.20% reached +8.0%"
	p := Policy{MaxHoldingDays: 5}

	// Price wandered back below target; the pending sell still retries.
	d := p.Evaluate(pos, 10100, now)
	if d.Action != ActionRetryExit {
		t.Fatalf("action = %s, want RETRY_EXIT", d.Action)
	}
	if d.Reason != pos.ExitPendingReason {
		t.Errorf("reason = %q, want original pending reason", d.Reason)
	}
}
