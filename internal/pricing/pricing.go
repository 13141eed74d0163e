// Package pricing defines the Greeks/IV capability the engine consumes.
// The engine depends on the contract only; the Black-Scholes provider in
// this package is a reference implementation for offline and paper runs.
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/tradeforge/optionrun/internal/market"
)

// Inputs identifies one contract pricing request.
type Inputs struct {
	Underlying float64       `json:"underlying"`
	Strike     float64       `json:"strike"`
	Right      market.Right  `json:"right"`
	TimeToExp  time.Duration `json:"time_to_exp"`
	Volatility float64       `json:"volatility"` // annualized
	RiskFree   float64       `json:"risk_free"`
}

// Result carries the Greeks and theoretical price for one request.
type Result struct {
	Price  float64       `json:"price"`
	Greeks market.Greeks `json:"greeks"`
}

// ErrUnpriceable is returned when the inputs cannot produce a finite price.
var ErrUnpriceable = errors.New("pricing: inputs not priceable")

// GreeksProvider is the pricing capability contract.
type GreeksProvider interface {
	Price(ctx context.Context, in Inputs) (*Result, error)
}
