// Package risk implements the three-layer risk control system: a
// process-wide ledger of aggregate exposure plus pure gate functions
// (entry, position, emergency) that return binding verdicts. Gates never
// place orders; callers must honor what they return.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// Track identifies one of the two concurrent trading modes.
type Track int

const (
	TrackRegular Track = iota
	TrackAnomaly
)

func (t Track) String() string {
	switch t {
	case TrackRegular:
		return "regular"
	case TrackAnomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// TrackState is the per-track slice of the ledger.
type TrackState struct {
	Allocation    float64   `json:"allocation"` // dollars allocated to the track
	Committed     float64   `json:"committed"`  // dollars currently reserved
	OpenPositions int       `json:"open_positions"`
	TradesToday   int       `json:"trades_today"`
	LastTradeTime time.Time `json:"last_trade_time"`
}

// LedgerSnapshot is an immutable copy handed to readers. Gates operate on
// snapshots only, never on the live ledger.
type LedgerSnapshot struct {
	Timestamp         time.Time            `json:"timestamp"`
	Capital           float64              `json:"capital"`
	Tracks            map[Track]TrackState `json:"tracks"`
	ConsecutiveLosses int                  `json:"consecutive_losses"`
	DailyPnL          float64              `json:"daily_pnl"`
	WeeklyPnL         float64              `json:"weekly_pnl"`
	MonthlyPnL        float64              `json:"monthly_pnl"`
	DailyRiskUsed     float64              `json:"daily_risk_used"` // dollars put at risk today
	Halted            bool                 `json:"halted"`
	HaltReason        string               `json:"halt_reason,omitempty"`
}

// Ledger is the single shared mutable exposure state. Mutations are narrow
// named operations; each field has one logical writer per track. Readers
// always receive snapshots.
type Ledger struct {
	mu sync.Mutex

	capital           float64
	tracks            map[Track]*TrackState
	consecutiveLosses int
	dailyPnL          float64
	weeklyPnL         float64
	monthlyPnL        float64
	dailyRiskUsed     float64
	halted            bool
	haltReason        string
}

// NewLedger creates a ledger with the given capital split across tracks.
// Allocation fractions must sum to at most 1.0.
func NewLedger(capital float64, allocations map[Track]float64) *Ledger {
	l := &Ledger{
		capital: capital,
		tracks:  make(map[Track]*TrackState),
	}
	for track, frac := range allocations {
		l.tracks[track] = &TrackState{Allocation: capital * frac}
	}
	return l
}

// ReserveCapital commits capital against a track's allocation when an order
// intent is accepted. Fails when the reservation would exceed the
// allocation; committed capital never exceeds it.
func (l *Ledger) ReserveCapital(track Track, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, ok := l.tracks[track]
	if !ok {
		return fmt.Errorf("risk: unknown track %s", track)
	}
	if amount <= 0 {
		return fmt.Errorf("risk: non-positive reservation %.2f", amount)
	}
	if ts.Committed+amount > ts.Allocation {
		return fmt.Errorf("risk: reservation %.2f would exceed %s allocation (%.2f committed of %.2f)",
			amount, track, ts.Committed, ts.Allocation)
	}
	ts.Committed += amount
	l.dailyRiskUsed += amount
	return nil
}

// ReleaseCapital returns committed capital when an accepted intent is
// rejected downstream before it opens a position. The daily risk budget
// is refunded too: nothing was ever at risk, and a sustained broker
// outage must not exhaust the day's budget on zero executed trades.
func (l *Ledger) ReleaseCapital(track Track, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts, ok := l.tracks[track]; ok {
		ts.Committed -= amount
		if ts.Committed < 0 {
			ts.Committed = 0
		}
	}
	l.dailyRiskUsed -= amount
	if l.dailyRiskUsed < 0 {
		l.dailyRiskUsed = 0
	}
}

// RecordOpen counts an opened position against the track.
func (l *Ledger) RecordOpen(track Track, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts, ok := l.tracks[track]; ok {
		ts.OpenPositions++
		ts.TradesToday++
		ts.LastTradeTime = at
	}
}

// RecordClose releases the position's committed capital and rolls its
// realized PnL into the daily/weekly/monthly aggregates. The
// consecutive-loss counter resets only on a winning close.
func (l *Ledger) RecordClose(track Track, committed, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts, ok := l.tracks[track]; ok {
		ts.Committed -= committed
		if ts.Committed < 0 {
			ts.Committed = 0
		}
		if ts.OpenPositions > 0 {
			ts.OpenPositions--
		}
	}

	l.dailyPnL += pnl
	l.weeklyPnL += pnl
	l.monthlyPnL += pnl

	if pnl > 0 {
		l.consecutiveLosses = 0
	} else if pnl < 0 {
		l.consecutiveLosses++
	}
}

// SetHalted latches the trading halt with a reason.
func (l *Ledger) SetHalted(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = true
	l.haltReason = reason
}

// ClearHalt lifts a halt (manual or automatic clear).
func (l *Ledger) ClearHalt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = false
	l.haltReason = ""
}

// ResetDaily zeroes the per-day counters; called before the open.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = 0
	l.dailyRiskUsed = 0
	for _, ts := range l.tracks {
		ts.TradesToday = 0
	}
}

// Snapshot returns an immutable copy of the ledger for gate evaluation and
// status reporting.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := LedgerSnapshot{
		Timestamp:         time.Now(),
		Capital:           l.capital,
		Tracks:            make(map[Track]TrackState, len(l.tracks)),
		ConsecutiveLosses: l.consecutiveLosses,
		DailyPnL:          l.dailyPnL,
		WeeklyPnL:         l.weeklyPnL,
		MonthlyPnL:        l.monthlyPnL,
		DailyRiskUsed:     l.dailyRiskUsed,
		Halted:            l.halted,
		HaltReason:        l.haltReason,
	}
	for track, ts := range l.tracks {
		snap.Tracks[track] = *ts
	}
	return snap
}
