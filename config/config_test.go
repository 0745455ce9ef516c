package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClampTakeProfit(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{8, 8},
		{4.9, 5},
		{5, 5},
		{20, 20},
		{35, 20},
		{-3, 5},
	}
	for _, tc := range cases {
		if got := ClampTakeProfit(tc.in); got != tc.want {
			t.Errorf("ClampTakeProfit(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func writeWatchlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWatchlist_DefaultsAndOverrides(t *testing.T) {
	path := writeWatchlist(t, `
watchlist:
  - symbol: "005930"
    name: "Samsung Electronics"
  - symbol: "000660"
    name: "SK Hynix"
    take_profit_pct: 12
    stop_loss_pct: 7
`)
	defaults := &Config{TakeProfitPct: 8, StopLossPct: 5, RebuyDropPct: 3}

	wl, err := LoadWatchlist(path, defaults)
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if len(wl.Symbols) != 2 {
		t.Fatalf("symbols = %d, want 2", len(wl.Symbols))
	}

	samsung := wl.Symbols[0]
	if samsung.TakeProfitPct != 8 || samsung.StopLossPct != 5 || samsung.RebuyDropPct != 3 {
		t.Errorf("defaults not applied: %+v", samsung)
	}

	hynix := wl.Symbols[1]
	if hynix.TakeProfitPct != 12 || hynix.StopLossPct != 7 {
		t.Errorf("overrides lost: %+v", hynix)
	}
	if hynix.RebuyDropPct != 3 {
		t.Errorf("partial override must keep remaining defaults: %+v", hynix)
	}
}

func TestLoadWatchlist_ClampsTakeProfit(t *testing.T) {
	path := writeWatchlist(t, `
watchlist:
  - symbol: "005930"
    take_profit_pct: 50
  - symbol: "000660"
    take_profit_pct: 2
`)
	wl, err := LoadWatchlist(path, &Config{TakeProfitPct: 8, StopLossPct: 5, RebuyDropPct: 3})
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if got := wl.Symbols[0].TakeProfitPct; got != MaxTakeProfitPct {
		t.Errorf("over-range target = %v, want clamp to %v", got, MaxTakeProfitPct)
	}
	if got := wl.Symbols[1].TakeProfitPct; got != MinTakeProfitPct {
		t.Errorf("under-range target = %v, want clamp to %v", got, MinTakeProfitPct)
	}
}

func TestLoadWatchlist_RejectsEmptyAndMissingSymbol(t *testing.T) {
	empty := writeWatchlist(t, "watchlist: []\n")
	if _, err := LoadWatchlist(empty, &Config{}); err == nil {
		t.Error("empty watchlist must fail")
	}

	noSymbol := writeWatchlist(t, "watchlist:\n  - name: \"Nameless\"\n")
	if _, err := LoadWatchlist(noSymbol, &Config{}); err == nil {
		t.Error("entry without symbol must fail")
	}
}
