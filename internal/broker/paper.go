package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// PaperBroker simulates order execution without real broker calls.
// Fills happen at the quoted price plus basis-point slippage. Prices come
// from a pluggable quote source so tests and paper sessions can drive them.
type PaperBroker struct {
	mu       sync.RWMutex
	cash     int64
	holdings map[string]*Holding
	prices   map[string]int64
	quotes   map[string]Quote
	orderSeq int64

	// SlippageBps is simulated slippage in basis points (5 = 0.05%).
	SlippageBps int64

	// QuoteFn, when set, overrides the internal price table.
	QuoteFn func(symbol string) (int64, bool)
}

// NewPaperBroker creates a paper broker funded with startingCash won.
func NewPaperBroker(startingCash int64, slippageBps int64) *PaperBroker {
	return &PaperBroker{
		cash:        startingCash,
		holdings:    make(map[string]*Holding),
		prices:      make(map[string]int64),
		quotes:      make(map[string]Quote),
		SlippageBps: slippageBps,
	}
}

// SetPrice sets the simulated market price for a symbol.
func (p *PaperBroker) SetPrice(symbol string, price int64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// SetQuote sets a full simulated quote, including previous close and the
// volume rate used by the crash scan.
func (p *PaperBroker) SetQuote(q Quote) {
	p.mu.Lock()
	p.prices[q.Symbol] = q.Price
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
}

// GetQuote returns the simulated quote for symbol. Symbols set only via
// SetPrice report a zero previous close.
func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if q, ok := p.quotes[symbol]; ok {
		return q, nil
	}
	price, ok := p.quote(symbol)
	if !ok {
		return Quote{}, &TransientError{Op: "quote", Err: fmt.Errorf("no quote for %s", symbol)}
	}
	return Quote{Symbol: symbol, Price: price}, nil
}

func (p *PaperBroker) quote(symbol string) (int64, bool) {
	if p.QuoteFn != nil {
		return p.QuoteFn(symbol)
	}
	price, ok := p.prices[symbol]
	return price, ok
}

func (p *PaperBroker) GetBalance(ctx context.Context) (Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	assets := p.cash
	for sym, h := range p.holdings {
		if price, ok := p.quote(sym); ok {
			assets += price * h.Qty
		} else {
			assets += h.AvgPrice * h.Qty
		}
	}
	return Balance{Cash: p.cash, TotalAssets: assets}, nil
}

func (p *PaperBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	return out, nil
}

func (p *PaperBroker) GetCurrentPrice(ctx context.Context, symbol string) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.quote(symbol)
	if !ok {
		return 0, &TransientError{Op: "price", Err: fmt.Errorf("no quote for %s", symbol)}
	}
	return price, nil
}

func (p *PaperBroker) BuyMarketOrder(ctx context.Context, symbol string, qty int64) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.quote(symbol)
	if !ok {
		return OrderResult{}, &TransientError{Op: "buy", Err: fmt.Errorf("no quote for %s", symbol)}
	}
	fill := price + price*p.SlippageBps/10000 // buy fills higher
	cost := fill * qty
	if cost > p.cash {
		return OrderResult{}, &RejectedError{Op: "buy", Symbol: symbol, Reason: "insufficient cash"}
	}

	p.cash -= cost
	h := p.holdings[symbol]
	if h == nil {
		p.holdings[symbol] = &Holding{Symbol: symbol, Qty: qty, AvgPrice: fill}
	} else {
		total := h.AvgPrice*h.Qty + fill*qty
		h.Qty += qty
		h.AvgPrice = total / h.Qty
	}

	p.orderSeq++
	orderNo := fmt.Sprintf("PAPER-%d", p.orderSeq)
	log.Printf("[paper] BUY %s qty=%d fill=%d order=%s", symbol, qty, fill, orderNo)
	return OrderResult{OrderNo: orderNo, Symbol: symbol, Qty: qty, Price: fill}, nil
}

func (p *PaperBroker) SellMarketOrder(ctx context.Context, symbol string, qty int64) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.holdings[symbol]
	if h == nil || h.Qty < qty {
		return OrderResult{}, &RejectedError{Op: "sell", Symbol: symbol, Reason: "insufficient shares"}
	}
	price, ok := p.quote(symbol)
	if !ok {
		return OrderResult{}, &TransientError{Op: "sell", Err: fmt.Errorf("no quote for %s", symbol)}
	}
	fill := price - price*p.SlippageBps/10000 // sell fills lower

	p.cash += fill * qty
	h.Qty -= qty
	if h.Qty == 0 {
		delete(p.holdings, symbol)
	}

	p.orderSeq++
	orderNo := fmt.Sprintf("PAPER-%d", p.orderSeq)
	log.Printf("[paper] SELL %s qty=%d fill=%d order=%s", symbol, qty, fill, orderNo)
	return OrderResult{OrderNo: orderNo, Symbol: symbol, Qty: qty, Price: fill}, nil
}

var _ Broker = (*PaperBroker)(nil)
var _ QuoteSource = (*PaperBroker)(nil)
