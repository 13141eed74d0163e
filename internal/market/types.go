package market

import (
	"time"
)

// Right identifies the option side.
type Right int

const (
	Call Right = iota
	Put
)

func (r Right) String() string {
	switch r {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "unknown"
	}
}

// PricePoint is one observation in a snapshot's rolling price history.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
}

// Snapshot is an immutable view of the underlying at one instant.
// Version increases monotonically per symbol; a snapshot is superseded
// by the next one for the same symbol and is never mutated.
type Snapshot struct {
	Symbol    string       `json:"symbol"`
	Version   uint64       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	LastPrice float64      `json:"last_price"`
	Bid       float64      `json:"bid"`
	Ask       float64      `json:"ask"`
	BidSize   int64        `json:"bid_size"`
	AskSize   int64        `json:"ask_size"`
	History   []PricePoint `json:"history"` // oldest first, covers ≥1 minute

	// Trailing volume windows
	Volume1m int64 `json:"volume_1m"`
	Volume5m int64 `json:"volume_5m"`

	// Aggressor-side split of the trailing minute
	BuyVolume1m  int64 `json:"buy_volume_1m"`
	SellVolume1m int64 `json:"sell_volume_1m"`

	// Quote activity
	QuoteUpdates1m int     `json:"quote_updates_1m"`
	AvgQuoteDepth  float64 `json:"avg_quote_depth"` // trailing average of bid+ask size
}

// Mid returns the quote midpoint, falling back to last when the book is empty.
func (s *Snapshot) Mid() float64 {
	if s.Bid > 0 && s.Ask > 0 {
		return (s.Bid + s.Ask) / 2
	}
	return s.LastPrice
}

// SpreadPct returns bid/ask spread as a fraction of mid.
func (s *Snapshot) SpreadPct() float64 {
	mid := s.Mid()
	if mid <= 0 || s.Bid <= 0 || s.Ask <= 0 {
		return 0
	}
	return (s.Ask - s.Bid) / mid
}

// Age returns how stale the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Return computes the fractional price change over the trailing window,
// using the oldest history point at or before now-window. Returns ok=false
// when the history does not reach back far enough.
func (s *Snapshot) Return(window time.Duration) (float64, bool) {
	if len(s.History) == 0 || s.LastPrice <= 0 {
		return 0, false
	}
	cutoff := s.Timestamp.Add(-window)
	var ref *PricePoint
	for i := range s.History {
		p := &s.History[i]
		if p.Timestamp.After(cutoff) {
			break
		}
		ref = p
	}
	if ref == nil || ref.Price <= 0 {
		return 0, false
	}
	return (s.LastPrice - ref.Price) / ref.Price, true
}

// Greeks bundles the option sensitivities used across the engine.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionQuote is one contract's market state. Derived values (spread,
// intrinsic/time value, moneyness) are computed on read, never stored.
type OptionQuote struct {
	Underlying   string    `json:"underlying"`
	Symbol       string    `json:"symbol"`
	Strike       float64   `json:"strike"`
	Right        Right     `json:"right"`
	Expiry       time.Time `json:"expiry"`
	Last         float64   `json:"last"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Volume       int64     `json:"volume"`    // session volume
	Volume1h     int64     `json:"volume_1h"` // trailing hour
	Volume1m     int64     `json:"volume_1m"` // trailing minute
	OpenInterest int64     `json:"open_interest"`
	AvgTradeSize float64   `json:"avg_trade_size"`
	QuoteFreq1m  int       `json:"quote_freq_1m"` // quote updates per minute
	Greeks       Greeks    `json:"greeks"`
	ImpliedVol   float64   `json:"implied_vol"`
	IVChange30s  float64   `json:"iv_change_30s"` // fractional 30s IV delta
	Timestamp    time.Time `json:"timestamp"`
}

// EffectivePrice returns the tradeable price using the ladder
// last trade > mid > ask. Zero when no usable price exists.
func (q *OptionQuote) EffectivePrice() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Ask > 0 {
		return q.Ask
	}
	return 0
}

// Mid returns the quote midpoint or the effective price when one side is missing.
func (q *OptionQuote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.EffectivePrice()
}

// Spread returns the absolute bid/ask spread in dollars.
func (q *OptionQuote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// SpreadPct returns the spread as a fraction of mid.
func (q *OptionQuote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / mid
}

// IntrinsicValue returns the exercise value against the given underlying price.
func (q *OptionQuote) IntrinsicValue(underlying float64) float64 {
	switch q.Right {
	case Call:
		if underlying > q.Strike {
			return underlying - q.Strike
		}
	case Put:
		if q.Strike > underlying {
			return q.Strike - underlying
		}
	}
	return 0
}

// TimeValue returns option price minus intrinsic value, floored at zero.
func (q *OptionQuote) TimeValue(underlying float64) float64 {
	tv := q.EffectivePrice() - q.IntrinsicValue(underlying)
	if tv < 0 {
		return 0
	}
	return tv
}

// Moneyness returns |strike − underlying| / underlying.
func (q *OptionQuote) Moneyness(underlying float64) float64 {
	if underlying <= 0 {
		return 0
	}
	m := (q.Strike - underlying) / underlying
	if m < 0 {
		return -m
	}
	return m
}

// Chain is an option chain snapshot for one underlying.
type Chain struct {
	Underlying string        `json:"underlying"`
	Version    uint64        `json:"version"`
	Timestamp  time.Time     `json:"timestamp"`
	Quotes     []OptionQuote `json:"quotes"`
}
