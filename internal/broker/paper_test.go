package broker

import (
	"context"
	"errors"
	"testing"
)

func TestPaperBroker_BuySellRoundTrip(t *testing.T) {
	p := NewPaperBroker(1_000_000, 0)
	p.SetPrice("005930", 70_000)
	ctx := context.Background()

	buy, err := p.BuyMarketOrder(ctx, "005930", 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.Price != 70_000 || buy.Qty != 10 {
		t.Fatalf("buy fill = %+v", buy)
	}

	bal, _ := p.GetBalance(ctx)
	if bal.Cash != 300_000 {
		t.Errorf("cash after buy = %d, want 300000", bal.Cash)
	}

	sell, err := p.SellMarketOrder(ctx, "005930", 10)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sell.Price != 70_000 {
		t.Errorf("sell fill = %d", sell.Price)
	}

	holdings, _ := p.GetHoldings(ctx)
	if len(holdings) != 0 {
		t.Errorf("holdings after full sell = %v", holdings)
	}
	bal, _ = p.GetBalance(ctx)
	if bal.Cash != 1_000_000 {
		t.Errorf("cash after round trip = %d, want 1000000", bal.Cash)
	}
}

func TestPaperBroker_SlippageDirection(t *testing.T) {
	p := NewPaperBroker(10_000_000, 10) // 0.10%
	p.SetPrice("000660", 100_000)
	ctx := context.Background()

	buy, err := p.BuyMarketOrder(ctx, "000660", 1)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.Price != 100_100 {
		t.Errorf("buy fill = %d, want 100100 (slippage against buyer)", buy.Price)
	}

	sell, err := p.SellMarketOrder(ctx, "000660", 1)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sell.Price != 99_900 {
		t.Errorf("sell fill = %d, want 99900 (slippage against seller)", sell.Price)
	}
}

func TestPaperBroker_RejectsOverdraftAndShortSell(t *testing.T) {
	p := NewPaperBroker(50_000, 0)
	p.SetPrice("035420", 60_000)
	ctx := context.Background()

	_, err := p.BuyMarketOrder(ctx, "035420", 1)
	if !IsRejected(err) {
		t.Errorf("overdraft buy error = %v, want rejection", err)
	}

	_, err = p.SellMarketOrder(ctx, "035420", 1)
	if !IsRejected(err) {
		t.Errorf("short sell error = %v, want rejection", err)
	}
}

func TestPaperBroker_AveragePriceAfterSecondBuy(t *testing.T) {
	p := NewPaperBroker(1_000_000, 0)
	p.SetPrice("035720", 10_000)
	ctx := context.Background()

	if _, err := p.BuyMarketOrder(ctx, "035720", 5); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	p.SetPrice("035720", 9_700)
	if _, err := p.BuyMarketOrder(ctx, "035720", 5); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	holdings, _ := p.GetHoldings(ctx)
	if len(holdings) != 1 {
		t.Fatalf("holdings = %v", holdings)
	}
	if holdings[0].Qty != 10 || holdings[0].AvgPrice != 9_850 {
		t.Errorf("holding = %+v, want qty 10 avg 9850", holdings[0])
	}
}

func TestPaperBroker_QuoteFallsBackToPriceTable(t *testing.T) {
	p := NewPaperBroker(1_000_000, 0)
	p.SetPrice("005380", 200_000)
	ctx := context.Background()

	q, err := p.GetQuote(ctx, "005380")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Price != 200_000 || q.PrevClose != 0 {
		t.Errorf("quote = %+v, want price 200000 with zero prev close", q)
	}

	_, err = p.GetQuote(ctx, "999999")
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("unknown symbol error = %v, want transient", err)
	}
}
