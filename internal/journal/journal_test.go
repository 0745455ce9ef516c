package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rebound-trader/internal/markethours"
	"rebound-trader/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "trades.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndReadBack(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 10, 15, 0, 0, markethours.KST)

	trades := []model.Trade{
		{OrderNo: "0001", Symbol: "005930", Name: "SamsungElec", Side: model.SideBuy, Qty: 10, Price: 62000, Reason: "crash entry", ExecutedAt: day},
		{OrderNo: "0002", Symbol: "005930", Name: "SamsungElec", Side: model.SideSell, Qty: 10, Price: 67000, Reason: "take profit", ProfitAmt: 50000, ProfitRate: 8.06, ExecutedAt: day.Add(2 * time.Hour)},
	}
	for _, tr := range trades {
		if err := j.Record(ctx, tr); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := j.TradesOn(ctx, day)
	if err != nil {
		t.Fatalf("TradesOn: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("trades = %d, want 2", len(got))
	}
	if got[0].Side != model.SideBuy || got[1].Side != model.SideSell {
		t.Errorf("order wrong: %v then %v", got[0].Side, got[1].Side)
	}
	if got[1].ProfitAmt != 50000 {
		t.Errorf("ProfitAmt = %d, want 50000", got[1].ProfitAmt)
	}
	if !got[0].ExecutedAt.Equal(day) {
		t.Errorf("ExecutedAt = %v, want %v", got[0].ExecutedAt, day)
	}
}

func TestJournal_TradesOnFiltersByDay(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	monday := time.Date(2026, 3, 9, 14, 0, 0, 0, markethours.KST)
	tuesday := monday.AddDate(0, 0, 1)

	j.Record(ctx, model.Trade{OrderNo: "1", Symbol: "000660", Side: model.SideBuy, Qty: 5, Price: 100000, ExecutedAt: monday})
	j.Record(ctx, model.Trade{OrderNo: "2", Symbol: "000660", Side: model.SideSell, Qty: 5, Price: 108000, ExecutedAt: tuesday})

	got, err := j.TradesOn(ctx, tuesday)
	if err != nil {
		t.Fatalf("TradesOn: %v", err)
	}
	if len(got) != 1 || got[0].OrderNo != "2" {
		t.Fatalf("tuesday trades = %+v, want only order 2", got)
	}
}

func TestJournal_ReportAggregatesSells(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 9, 30, 0, 0, markethours.KST)

	j.Record(ctx, model.Trade{OrderNo: "1", Symbol: "A00001", Side: model.SideBuy, Qty: 10, Price: 10000, ExecutedAt: day})
	j.Record(ctx, model.Trade{OrderNo: "2", Symbol: "A00001", Side: model.SideSell, Qty: 10, Price: 10800, ProfitAmt: 8000, ProfitRate: 8, ExecutedAt: day.Add(time.Hour)})
	j.Record(ctx, model.Trade{OrderNo: "3", Symbol: "B00002", Side: model.SideSell, Qty: 5, Price: 9500, ProfitAmt: -2500, ProfitRate: -5, ExecutedAt: day.Add(2 * time.Hour)})

	report, err := j.ReportFor(ctx, day)
	if err != nil {
		t.Fatalf("ReportFor: %v", err)
	}
	if report.Sells != 2 || report.Wins != 1 || report.Losses != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.NetProfit != 5500 {
		t.Errorf("NetProfit = %d, want 5500", report.NetProfit)
	}
	if got := report.WinRate(); got != 50 {
		t.Errorf("WinRate = %v, want 50", got)
	}
	if report.Trades != 3 {
		t.Errorf("report trades = %d, want 3 (buys included)", report.Trades)
	}
	if report.Date != "2026-03-10" {
		t.Errorf("Date = %q", report.Date)
	}
}
