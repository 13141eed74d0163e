package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/journal"
	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/metrics"
	"github.com/tradeforge/optionrun/internal/risk"
	"github.com/tradeforge/optionrun/internal/scorer"
)

// EntryOutcome names how an entry evaluation ended.
type EntryOutcome string

const (
	OutcomeOpened       EntryOutcome = "opened"
	OutcomeNotConfirmed EntryOutcome = "not_confirmed"
	OutcomeNoCandidate  EntryOutcome = "no_candidate"
	OutcomeTrackClosed  EntryOutcome = "track_closed"
	OutcomeGateDenied   EntryOutcome = "gate_denied"
	OutcomeSuperseded   EntryOutcome = "superseded"
	OutcomeRejected     EntryOutcome = "broker_rejected"
)

// EntryDecision is the audit record of one entry evaluation.
type EntryDecision struct {
	Symbol          string       `json:"symbol"`
	Outcome         EntryOutcome `json:"outcome"`
	Track           risk.Track   `json:"track"`
	SnapshotVersion uint64       `json:"snapshot_version"`
	CombinedScore   float64      `json:"combined_score"`
	OptionSymbol    string       `json:"option_symbol,omitempty"`
	OptionScore     float64      `json:"option_score,omitempty"`
	Capital         float64      `json:"capital,omitempty"`
	Reasons         []string     `json:"reasons,omitempty"`
	Position        *Position    `json:"position,omitempty"`
}

// EvaluateEntry runs one full entry cycle for the symbol: confirm the
// signal, score the chain, resolve the active track, pass the gates, and
// submit. The snapshot version is re-checked immediately before
// submission; a superseded signal is abandoned, never traded.
func (e *Engine) EvaluateEntry(ctx context.Context, symbol string) (*EntryDecision, error) {
	var timer *metrics.StageTimer
	if e.metrics != nil {
		timer = e.metrics.StartStage("entry")
	}
	dec, err := e.evaluateEntry(ctx, symbol)
	if timer != nil {
		result := "error"
		if err == nil {
			result = string(dec.Outcome)
		}
		timer.Stop(result)
	}
	if e.metrics != nil && dec != nil {
		e.metrics.EntryEvaluations.WithLabelValues(dec.Track.String(), string(dec.Outcome)).Inc()
	}
	return dec, err
}

func (e *Engine) evaluateEntry(ctx context.Context, symbol string) (*EntryDecision, error) {
	snap, err := e.freshSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	chain, err := e.feed.LatestChain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	e.quotes.Absorb(chain)

	dec := &EntryDecision{Symbol: symbol, SnapshotVersion: snap.Version, Track: risk.TrackRegular}

	confirm := e.signals.Confirm(snap, chain)
	dec.CombinedScore = confirm.CombinedScore
	dec.Reasons = append(dec.Reasons, confirm.Reasons...)
	if !confirm.Confirmed {
		dec.Outcome = OutcomeNotConfirmed
		return dec, nil
	}

	ledgerSnap := e.ledger.Snapshot()
	anomSnap := e.detector.Status(time.Now())
	trackDec := e.tracks.Decide(anomSnap, ledgerSnap)
	dec.Reasons = append(dec.Reasons, trackDec.Reasons...)

	var track risk.Track
	sizing := 1.0
	switch {
	case trackDec.AnomalyEntriesOpen:
		track = risk.TrackAnomaly
		if trackDec.AnomalySizing > 0 {
			sizing = trackDec.AnomalySizing
		}
	case trackDec.RegularEntriesOpen:
		track = risk.TrackRegular
	default:
		dec.Outcome = OutcomeTrackClosed
		return dec, nil
	}
	dec.Track = track

	filter := e.entryFilter(trackDec.StrictFilters)
	profile := e.profileFor(track)
	scored, err := e.scorer.Score(chain, snap.LastPrice, profile, filter)
	if err != nil {
		return nil, err
	}

	candidate := pickCandidate(scored, snap)
	if candidate == nil {
		dec.Outcome = OutcomeNoCandidate
		dec.Reasons = append(dec.Reasons, "no eligible contract after scoring")
		return dec, nil
	}
	dec.OptionSymbol = candidate.Quote.Symbol
	dec.OptionScore = candidate.Score

	capital := ledgerSnap.Capital * e.riskConfig.MaxTradeRiskPct / 100 * sizing
	dec.Capital = capital

	req := risk.EntryRequest{Track: track, Symbol: symbol, Capital: capital, At: time.Now()}
	gate := e.gates.CheckEntry(ledgerSnap, req)
	e.recordGate("entry", gate)
	if !gate.Allowed() {
		dec.Outcome = OutcomeGateDenied
		dec.Reasons = append(dec.Reasons, gate.Reasons...)
		e.journalVerdict(ctx, "entry", track, symbol, gate.Verdict.String(), confirm.CombinedScore, gate.Reasons)
		return dec, nil
	}

	// The signal is only valid for the snapshot it was computed on. If a
	// newer snapshot arrived while we were deciding, abandon the entry.
	latest, err := e.feed.Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if latest.Version != snap.Version {
		dec.Outcome = OutcomeSuperseded
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("snapshot advanced %d -> %d during evaluation", snap.Version, latest.Version))
		return dec, nil
	}

	price := candidate.Quote.EffectivePrice()
	if price <= 0 {
		dec.Outcome = OutcomeNoCandidate
		dec.Reasons = append(dec.Reasons, "candidate has no usable price")
		return dec, nil
	}
	qty := contracts(capital, price)
	if qty == 0 {
		dec.Outcome = OutcomeNoCandidate
		dec.Reasons = append(dec.Reasons, "capital too small for one contract")
		return dec, nil
	}

	if err := e.ledger.ReserveCapital(track, capital); err != nil {
		dec.Outcome = OutcomeGateDenied
		dec.Reasons = append(dec.Reasons, err.Error())
		return dec, nil
	}

	intent := broker.NewIntent(track, symbol, candidate.Quote.Symbol, broker.Buy, qty, 0, true)
	fill, err := e.broker.Submit(ctx, intent)
	if err != nil {
		e.ledger.ReleaseCapital(track, capital)
		return nil, err
	}
	if fill.Status != broker.Filled {
		e.ledger.ReleaseCapital(track, capital)
		dec.Outcome = OutcomeRejected
		dec.Reasons = append(dec.Reasons, "broker rejected: "+fill.Reason)
		return dec, nil
	}

	now := time.Now()
	e.ledger.RecordOpen(track, now)
	pos := newPosition(intent.ID, track, &candidate.Quote, qty, fill.Price, capital, now)
	e.book.add(pos)
	if e.metrics != nil {
		e.metrics.OpenPositions.WithLabelValues(track.String()).Inc()
		e.metrics.BrokerSubmits.WithLabelValues(fill.Status.String()).Inc()
	}
	e.journalOpen(ctx, pos)

	e.logger.Info().
		Str("symbol", symbol).
		Str("option", pos.OptionSymbol).
		Str("track", track.String()).
		Int("qty", qty).
		Float64("price", fill.Price).
		Float64("capital", capital).
		Msg("position opened")

	dec.Outcome = OutcomeOpened
	dec.Position = pos
	return dec, nil
}

// entryFilter tightens eligibility during cautious anomaly entry.
func (e *Engine) entryFilter(strict bool) *scorer.Filter {
	if !strict {
		return nil
	}
	minVol := int64(100)
	minOI := int64(200)
	maxSpread := 0.02
	return &scorer.Filter{
		MinVolume1h:     &minVol,
		MinOpenInterest: &minOI,
		MaxSpreadAbs:    &maxSpread,
	}
}

// profileFor picks the scoring profile per track. The anomaly track
// chases liquidity; the regular track balances.
func (e *Engine) profileFor(track risk.Track) scorer.Profile {
	if track == risk.TrackAnomaly {
		return scorer.ProfileLiquidity
	}
	return scorer.ProfileBalanced
}

// pickCandidate takes the top-ranked contract on the side the short-term
// momentum favors, calls on upward pressure and puts on downward.
func pickCandidate(res *scorer.Result, snap *market.Snapshot) *scorer.ScoredOption {
	up := true
	if ret, valid := snap.Return(30 * time.Second); valid && ret < 0 {
		up = false
	}
	side, other := res.Calls, res.Puts
	if !up {
		side, other = res.Puts, res.Calls
	}
	if len(side) > 0 {
		return &side[0]
	}
	// Fall back to the other side rather than skipping the cycle.
	if len(other) > 0 {
		return &other[0]
	}
	return nil
}

// contracts converts risk capital into a whole contract count at the
// 100-share multiplier.
func contracts(capital, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(capital / (price * 100))
}

func (e *Engine) recordGate(gate string, res *risk.GateResult) {
	if e.metrics != nil {
		e.metrics.GateVerdicts.WithLabelValues(gate, res.Verdict.String()).Inc()
	}
}

func (e *Engine) journalOpen(ctx context.Context, pos *Position) {
	if e.journal == nil {
		return
	}
	rec := &journal.TradeRecord{
		IntentID:     pos.IntentID,
		Track:        pos.Track.String(),
		Underlying:   pos.Underlying,
		OptionSymbol: pos.OptionSymbol,
		Side:         broker.Buy.String(),
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		OpenedAt:     pos.OpenedAt,
	}
	if err := e.journal.RecordOpen(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("intent", pos.IntentID).Msg("journal open failed")
	}
}

func (e *Engine) journalVerdict(ctx context.Context, kind string, track risk.Track, symbol, verdict string, score float64, reasons []string) {
	if e.journal == nil {
		return
	}
	rec := &journal.VerdictRecord{
		Kind:    kind,
		Track:   track.String(),
		Symbol:  symbol,
		Verdict: verdict,
		Score:   score,
		Reasons: reasons,
		At:      time.Now(),
	}
	if err := e.journal.RecordVerdict(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("kind", kind).Msg("journal verdict failed")
	}
}
