package broker

import "context"

// Quote is a market snapshot for one symbol, with enough context to judge
// an intraday crash: last price, the previous session's close, and today's
// volume relative to the previous session.
type Quote struct {
	Symbol     string
	Price      int64
	PrevClose  int64
	Volume     int64
	VolumeRate float64 // today's volume as a percentage of yesterday's
}

// CrashRate is the percentage change from the previous close, negative on
// a drop. Zero when the previous close is unknown.
func (q Quote) CrashRate() float64 {
	if q.PrevClose <= 0 {
		return 0
	}
	return float64(q.Price-q.PrevClose) / float64(q.PrevClose) * 100
}

// QuoteSource provides full quotes for the crash scan. The live client and
// the paper broker both implement it.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}
