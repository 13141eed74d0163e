// Package broker defines the order-execution capability and two pieces of
// infrastructure around it: a paper broker for offline/sim runs and a
// guarded wrapper adding a circuit breaker plus submission rate limiting.
// The engine only ever hands the broker an intent; it never builds orders
// anywhere else.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/optionrun/internal/risk"
)

// Side is the order direction.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Intent is one proposed order, produced by the engine after all gates
// have allowed it.
type Intent struct {
	ID           string     `json:"id"`
	Track        risk.Track `json:"track"`
	Underlying   string     `json:"underlying"`
	OptionSymbol string     `json:"option_symbol"`
	Side         Side       `json:"side"`
	Quantity     int        `json:"quantity"`
	LimitPrice   float64    `json:"limit_price"` // 0 with Market=true
	Market       bool       `json:"market"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewIntent builds an intent with a fresh ID.
func NewIntent(track risk.Track, underlying, optionSymbol string, side Side, qty int, limit float64, mkt bool) Intent {
	return Intent{
		ID:           uuid.NewString(),
		Track:        track,
		Underlying:   underlying,
		OptionSymbol: optionSymbol,
		Side:         side,
		Quantity:     qty,
		LimitPrice:   limit,
		Market:       mkt,
		CreatedAt:    time.Now(),
	}
}

// FillStatus is the asynchronous outcome of a submission.
type FillStatus int

const (
	Filled FillStatus = iota
	Rejected
)

func (f FillStatus) String() string {
	switch f {
	case Filled:
		return "filled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Fill reports one intent's outcome.
type Fill struct {
	IntentID string     `json:"intent_id"`
	Status   FillStatus `json:"status"`
	Price    float64    `json:"price"`
	Reason   string     `json:"reason,omitempty"`
	Time     time.Time  `json:"time"`
}

// ErrBrokerUnavailable is returned when the execution path is down
// (breaker open or transport failure).
var ErrBrokerUnavailable = errors.New("broker: unavailable")

// Broker is the order-execution contract. Submit blocks only for the
// round-trip acknowledgment; fills arrive asynchronously through the
// returned value.
type Broker interface {
	Submit(ctx context.Context, intent Intent) (*Fill, error)
}
