package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Quoter supplies the marketable price for an option symbol. The paper
// broker fills against it instead of a live venue.
type Quoter interface {
	// QuotePrice returns the current executable price for the symbol,
	// or false if no quote is known.
	QuotePrice(symbol string, side Side) (float64, bool)
}

// Paper is an in-process broker that fills at the quoted price plus a
// configurable slippage. It keeps every fill so tests and the journal
// can replay the session.
type Paper struct {
	mu       sync.Mutex
	quoter   Quoter
	slippage float64
	fills    []Fill
}

// NewPaper builds a paper broker. slippage is an absolute per-contract
// price adjustment applied against the taker (paid on buys, given up on
// sells).
func NewPaper(quoter Quoter, slippage float64) *Paper {
	return &Paper{quoter: quoter, slippage: slippage}
}

// Submit fills immediately at quote plus slippage, or rejects when no
// quote is available or the limit cannot be met.
func (p *Paper) Submit(ctx context.Context, intent Intent) (*Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fill := Fill{IntentID: intent.ID, Time: time.Now()}

	price, ok := p.quoter.QuotePrice(intent.OptionSymbol, intent.Side)
	if !ok {
		fill.Status = Rejected
		fill.Reason = "no quote for symbol"
		p.record(fill)
		return &fill, nil
	}

	switch intent.Side {
	case Buy:
		price += p.slippage
	case Sell:
		price -= p.slippage
	}
	if price < 0 {
		price = 0
	}

	if !intent.Market {
		if intent.Side == Buy && price > intent.LimitPrice {
			fill.Status = Rejected
			fill.Reason = "limit not marketable"
			p.record(fill)
			return &fill, nil
		}
		if intent.Side == Sell && price < intent.LimitPrice {
			fill.Status = Rejected
			fill.Reason = "limit not marketable"
			p.record(fill)
			return &fill, nil
		}
	}

	fill.Status = Filled
	fill.Price = price
	p.record(fill)

	log.Debug().
		Str("component", "broker").
		Str("intent", intent.ID).
		Str("symbol", intent.OptionSymbol).
		Str("side", intent.Side.String()).
		Float64("price", price).
		Msg("paper fill")

	return &fill, nil
}

func (p *Paper) record(f Fill) {
	p.mu.Lock()
	p.fills = append(p.fills, f)
	p.mu.Unlock()
}

// Fills returns a copy of every fill recorded this session.
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}
