package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rebound-trader/internal/model"
)

type recordingNotifier struct {
	alerts []Alert
	fail   bool
}

func (r *recordingNotifier) Send(ctx context.Context, a Alert) error {
	if r.fail {
		return errors.New("backend down")
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func TestMulti_DeliversToAllAndSwallowsFailures(t *testing.T) {
	ok := &recordingNotifier{}
	broken := &recordingNotifier{fail: true}
	m := NewMulti(broken, ok)

	if err := m.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"}); err != nil {
		t.Fatalf("Multi.Send returned %v, want nil even when a backend fails", err)
	}
	if len(ok.alerts) != 1 {
		t.Errorf("healthy backend got %d alerts, want 1", len(ok.alerts))
	}
}

func TestExitAlert_LevelTracksProfit(t *testing.T) {
	win := ExitAlert(model.Trade{Symbol: "005930", ProfitAmt: 4000, ProfitRate: 8.0, Reason: "take profit"})
	if win.Level != AlertInfo {
		t.Errorf("winning exit level = %s, want INFO", win.Level)
	}

	loss := ExitAlert(model.Trade{Symbol: "005930", ProfitAmt: -2500, ProfitRate: -5.0, Reason: "stop loss"})
	if loss.Level != AlertWarning {
		t.Errorf("losing exit level = %s, want WARNING", loss.Level)
	}
	if !strings.Contains(loss.Message, "-2500") {
		t.Errorf("loss message missing P&L: %q", loss.Message)
	}
}

func TestExitStuckAlert_IsCritical(t *testing.T) {
	a := ExitStuckAlert("000660", "stop loss", errors.New("timeout"))
	if a.Level != AlertCritical {
		t.Errorf("level = %s, want CRITICAL", a.Level)
	}
	if !strings.Contains(a.Message, "retry") {
		t.Errorf("message should mention retry: %q", a.Message)
	}
}

func TestReportAlert_Summary(t *testing.T) {
	a := ReportAlert(model.DailyReport{
		Date: "2026-03-10", Trades: 5, Sells: 2, Wins: 1, Losses: 1, NetProfit: 1500,
	})
	if !strings.Contains(a.Title, "2026-03-10") {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "win rate 50%") {
		t.Errorf("message = %q", a.Message)
	}
}
