package engine

import (
	"context"
	"time"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/exits"
	"github.com/tradeforge/optionrun/internal/market"
)

// evaluateExits runs one exit pass over every open position and executes
// the verdicts that demand action.
func (e *Engine) evaluateExits(ctx context.Context) {
	for _, pos := range e.book.list() {
		verdict, err := e.EvaluateExit(ctx, pos)
		if err != nil {
			e.logger.Warn().Err(err).Str("position", pos.ID).Msg("exit evaluation failed")
			continue
		}
		if verdict.Tier >= exits.ActiveExit {
			if err := e.ClosePosition(ctx, pos, verdict.Reasons); err != nil {
				e.logger.Error().Err(err).Str("position", pos.ID).Msg("close failed")
			}
		}
	}
}

// EvaluateExit derives the matrix inputs for one position from current
// market state and scores them. It never mutates anything.
func (e *Engine) EvaluateExit(ctx context.Context, pos *Position) (*exits.Verdict, error) {
	snap, err := e.feed.Latest(ctx, pos.Underlying)
	if err != nil {
		return nil, err
	}
	if chain, err := e.feed.LatestChain(ctx, pos.Underlying); err == nil {
		e.quotes.Absorb(chain)
	}

	quote, haveQuote := e.quotes.Lookup(pos.OptionSymbol)

	in := exits.Inputs{
		Symbol:   pos.OptionSymbol,
		TimeHeld: time.Since(pos.OpenedAt),
	}
	if haveQuote {
		if price := quote.EffectivePrice(); price > 0 {
			in.PnLPct = pos.PnLPct(price)
		}
		in.Drift = e.driftFor(ctx, pos, &quote, snap.LastPrice)
	}
	in.Regime = e.regimeFor(snap)

	verdict := e.exits.Evaluate(in)
	if e.metrics != nil {
		e.metrics.ExitVerdicts.WithLabelValues(verdict.TierString).Inc()
	}
	return verdict, nil
}

// ClosePosition sells the position at market and settles the ledger,
// book, journal and metrics. Used by the exit loop and the emergency
// path.
func (e *Engine) ClosePosition(ctx context.Context, pos *Position, reasons []string) error {
	intent := broker.NewIntent(pos.Track, pos.Underlying, pos.OptionSymbol, broker.Sell, pos.Quantity, 0, true)
	fill, err := e.broker.Submit(ctx, intent)
	if err != nil {
		return err
	}
	if fill.Status != broker.Filled {
		e.logger.Warn().
			Str("position", pos.ID).
			Str("reason", fill.Reason).
			Msg("close rejected; will retry next cycle")
		return nil
	}

	pnl := (fill.Price - pos.EntryPrice) * float64(pos.Quantity) * 100
	e.ledger.RecordClose(pos.Track, pos.Committed, pnl)
	e.book.remove(pos.ID)

	if e.metrics != nil {
		e.metrics.OpenPositions.WithLabelValues(pos.Track.String()).Dec()
		e.metrics.BrokerSubmits.WithLabelValues(fill.Status.String()).Inc()
	}
	if e.journal != nil {
		if err := e.journal.RecordClose(ctx, pos.IntentID, fill.Price, pnl, fill.Time); err != nil {
			e.logger.Error().Err(err).Str("intent", pos.IntentID).Msg("journal close failed")
		}
	}
	e.journalVerdict(ctx, "exit", pos.Track, pos.OptionSymbol, "CLOSED", 0, reasons)

	e.logger.Info().
		Str("position", pos.ID).
		Str("option", pos.OptionSymbol).
		Float64("exit_price", fill.Price).
		Float64("pnl", pnl).
		Strs("reasons", reasons).
		Msg("position closed")
	return nil
}

// driftFor compares entry Greeks against current ones, pricing through
// the cache when the quote carries none.
func (e *Engine) driftFor(ctx context.Context, pos *Position, quote *market.OptionQuote, underlying float64) exits.GreeksDrift {
	current, err := e.greeksFor(ctx, quote, underlying)
	if err != nil {
		return exits.GreeksDrift{Available: false}
	}
	return exits.GreeksDrift{
		EntryDelta:   pos.EntryGreeks.Delta,
		CurrentDelta: current.Delta,
		EntryGamma:   pos.EntryGreeks.Gamma,
		CurrentGamma: current.Gamma,
		CurrentTheta: current.Theta,
		Available:    true,
	}
}

// regimeFor derives the regime adjustment flags from the snapshot and the
// anomaly detector.
func (e *Engine) regimeFor(snap *market.Snapshot) exits.RegimeFlags {
	flags := exits.RegimeFlags{}

	anomSnap := e.detector.Status(time.Now())
	flags.VolatilitySpike = anomSnap.Tier >= anomaly.Level1

	// Trailing minute running under a fifth of the five-minute pace
	// counts as drying up.
	if snap.Volume5m > 0 {
		flags.VolumeDryingUp = float64(snap.Volume1m) < float64(snap.Volume5m)/5*0.5
	}

	// Consistency is the fraction of the shorter windows whose direction
	// agrees with the one-minute trend, so partial agreement lands in the
	// matrix's neutral band instead of snapping to full hold or exit.
	if long, ok := snap.Return(60 * time.Second); ok {
		agree, total := 0, 0
		for _, window := range []time.Duration{10 * time.Second, 30 * time.Second} {
			r, ok := snap.Return(window)
			if !ok {
				continue
			}
			total++
			if (r >= 0) == (long >= 0) {
				agree++
			}
		}
		if total > 0 {
			flags.MomentumValid = true
			flags.MomentumConsistency = float64(agree) / float64(total)
		}
	}
	return flags
}
