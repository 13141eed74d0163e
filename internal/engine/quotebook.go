package engine

import (
	"sync"

	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/market"
)

// QuoteBook is the engine's last-seen option quote table. It satisfies
// broker.Quoter so the paper broker fills against the same quotes the
// decision pipeline saw.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]market.OptionQuote // by option symbol
}

// NewQuoteBook returns an empty quote table.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{quotes: make(map[string]market.OptionQuote)}
}

// Absorb records every quote in the chain.
func (b *QuoteBook) Absorb(chain *market.Chain) {
	if chain == nil {
		return
	}
	b.mu.Lock()
	for i := range chain.Quotes {
		q := chain.Quotes[i]
		b.quotes[q.Symbol] = q
	}
	b.mu.Unlock()
}

// Lookup returns the last-seen quote for the symbol.
func (b *QuoteBook) Lookup(symbol string) (market.OptionQuote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// QuotePrice returns the marketable price for the side: ask for buys, bid
// for sells, falling back to the effective price when one side is empty.
func (b *QuoteBook) QuotePrice(symbol string, side broker.Side) (float64, bool) {
	q, ok := b.Lookup(symbol)
	if !ok {
		return 0, false
	}
	switch side {
	case broker.Buy:
		if q.Ask > 0 {
			return q.Ask, true
		}
	case broker.Sell:
		if q.Bid > 0 {
			return q.Bid, true
		}
	}
	if p := q.EffectivePrice(); p > 0 {
		return p, true
	}
	return 0, false
}
