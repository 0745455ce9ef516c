// Package broker defines the gateway interface to the brokerage and the
// error taxonomy the engine relies on to decide retry-vs-skip. The live
// implementation is pkg/kis; PaperBroker simulates fills for mock mode.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// Balance is the account cash view reported by the broker.
type Balance struct {
	Cash        int64 `json:"cash"`         // orderable cash in won
	TotalAssets int64 `json:"total_assets"` // net asset value in won
}

// Holding is one broker-reported position, the authoritative record used
// for startup reconciliation.
type Holding struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Qty      int64  `json:"qty"`
	AvgPrice int64  `json:"avg_price"` // won
}

// OrderResult is the outcome of a placed market order.
type OrderResult struct {
	OrderNo string `json:"order_no"`
	Symbol  string `json:"symbol"`
	Qty     int64  `json:"qty"`
	Price   int64  `json:"price"` // fill estimate in won (market orders)
	Message string `json:"message,omitempty"`
}

// Broker is the gateway to the brokerage. Implementations must be safe for
// read-only calls (GetCurrentPrice) from multiple goroutines; order placement
// is only ever invoked from the engine's single decision goroutine.
type Broker interface {
	// GetBalance reports orderable cash and total assets.
	GetBalance(ctx context.Context) (Balance, error)

	// GetHoldings reports all broker-side positions with qty > 0.
	GetHoldings(ctx context.Context) ([]Holding, error)

	// GetCurrentPrice returns the latest traded price in won.
	GetCurrentPrice(ctx context.Context, symbol string) (int64, error)

	// BuyMarketOrder places a market buy for qty shares.
	BuyMarketOrder(ctx context.Context, symbol string, qty int64) (OrderResult, error)

	// SellMarketOrder places a market sell for qty shares.
	SellMarketOrder(ctx context.Context, symbol string, qty int64) (OrderResult, error)
}

// TransientError marks a failure worth retrying with backoff: timeouts,
// rate limits, connectivity.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("broker %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError marks a definitive broker rejection: trading halt,
// insufficient shares, restricted symbol. Never retried.
type RejectedError struct {
	Op     string
	Symbol string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker %s rejected for %s: %s", e.Op, e.Symbol, e.Reason)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a definitive rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
