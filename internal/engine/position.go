package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/risk"
)

// Position is one open contract holding. EntryGreeks are frozen at fill
// time so exit evaluation can measure drift against them.
type Position struct {
	ID           string        `json:"id"`
	IntentID     string        `json:"intent_id"`
	Track        risk.Track    `json:"track"`
	Underlying   string        `json:"underlying"`
	OptionSymbol string        `json:"option_symbol"`
	Strike       float64       `json:"strike"`
	Right        market.Right  `json:"right"`
	Quantity     int           `json:"quantity"`
	EntryPrice   float64       `json:"entry_price"`
	EntryGreeks  market.Greeks `json:"entry_greeks"`
	Committed    float64       `json:"committed"` // dollars reserved in the ledger
	OpenedAt     time.Time     `json:"opened_at"`
}

// PnLPct returns the unrealized percent move against entry for the given
// current contract price. Long premium only.
func (p *Position) PnLPct(current float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

// newPosition stamps a fresh ID over the fill details.
func newPosition(intentID string, track risk.Track, q *market.OptionQuote, qty int, fillPrice, committed float64, at time.Time) *Position {
	return &Position{
		ID:           uuid.NewString(),
		IntentID:     intentID,
		Track:        track,
		Underlying:   q.Underlying,
		OptionSymbol: q.Symbol,
		Strike:       q.Strike,
		Right:        q.Right,
		Quantity:     qty,
		EntryPrice:   fillPrice,
		EntryGreeks:  q.Greeks,
		Committed:    committed,
		OpenedAt:     at,
	}
}

// book is the engine's open-position set. Guarded by its own mutex so the
// exit loop and the entry loop can touch it independently of the ledger.
type book struct {
	mu        sync.Mutex
	positions map[string]*Position // by position ID
}

func newBook() *book {
	return &book{positions: make(map[string]*Position)}
}

func (b *book) add(p *Position) {
	b.mu.Lock()
	b.positions[p.ID] = p
	b.mu.Unlock()
}

func (b *book) remove(id string) {
	b.mu.Lock()
	delete(b.positions, id)
	b.mu.Unlock()
}

func (b *book) list() []*Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}
