package engine

import (
	"context"
	"time"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/risk"
)

// MonitorOnce feeds the anomaly detector one reading and runs the
// emergency gate. On a halt verdict it freezes the ledger and flattens
// every open position.
func (e *Engine) MonitorOnce(ctx context.Context) {
	e.rolloverDay(time.Now())

	sig, ok := e.collectSignals(ctx)
	if ok {
		snap := e.detector.Observe(sig)
		if e.metrics != nil {
			e.metrics.AnomalyTier.Set(float64(snap.Tier))
		}
	}

	e.checkEmergency(ctx)
	e.publishCacheStats()
}

// publishCacheStats pushes pricing-cache counter deltas to the metrics
// registry.
func (e *Engine) publishCacheStats() {
	if e.cache == nil || e.metrics == nil {
		return
	}
	stats := e.cache.Stats()
	e.metrics.AddCacheCounts("pricing",
		stats.Hits-e.lastCacheStats.Hits,
		stats.Misses-e.lastCacheStats.Misses)
	e.lastCacheStats = stats
}

// rolloverDay resets the ledger's per-day counters on the first monitor
// tick of a new session date.
func (e *Engine) rolloverDay(now time.Time) {
	day := now.Format("2006-01-02")
	if e.sessionDay == "" {
		e.sessionDay = day
		return
	}
	if day != e.sessionDay {
		e.sessionDay = day
		e.ledger.ResetDaily()
		e.logger.Info().Str("day", day).Msg("daily risk counters reset")
	}
}

// collectSignals derives one systemic anomaly reading as the worst case
// across all watched symbols.
func (e *Engine) collectSignals(ctx context.Context) (anomaly.Signals, bool) {
	sig := anomaly.Signals{Timestamp: time.Now()}
	any := false

	for _, sym := range e.symbols {
		snap, err := e.feed.Latest(ctx, sym)
		if err != nil {
			continue
		}
		any = true

		if move, ok := snap.Return(60 * time.Second); ok {
			if m := abs(move); m > sig.PriceMovePct {
				sig.PriceMovePct = m
			}
		}
		if snap.Volume5m > 0 {
			pace := float64(snap.Volume1m) / (float64(snap.Volume5m) / 5)
			if pace > sig.VolumeMultiple {
				sig.VolumeMultiple = pace
			}
		}
		if chain, err := e.feed.LatestChain(ctx, sym); err == nil {
			if iv := maxIVChange(chain, snap.LastPrice); iv > sig.IVDelta30s {
				sig.IVDelta30s = iv
			}
		}
	}
	return sig, any
}

// maxIVChange scans near-money quotes for the largest 30s IV move.
func maxIVChange(chain *market.Chain, price float64) float64 {
	if price <= 0 {
		return 0
	}
	var worst float64
	for i := range chain.Quotes {
		q := &chain.Quotes[i]
		if abs(q.Strike-price)/price > 0.02 {
			continue
		}
		if c := abs(q.IVChange30s); c > worst {
			worst = c
		}
	}
	return worst
}

// checkEmergency evaluates the third gate layer and acts on a halt.
func (e *Engine) checkEmergency(ctx context.Context) {
	sig := risk.EmergencySignals{}

	if !e.FeedConnected() {
		sig.ConnectivityLost = true
		sig.Detail = "market data feed disconnected"
	}
	if hc, ok := e.broker.(healthChecker); ok && !hc.Healthy() {
		sig.ConnectivityLost = true
		sig.Detail = "broker circuit open"
	}

	anomSnap := e.detector.Status(time.Now())
	if anomSnap.Tier == anomaly.Level3 {
		sig.SystemicAnomaly = true
	}

	res := e.gates.CheckEmergency(sig)
	e.recordGate("emergency", res)
	if res.Verdict != risk.Halt {
		// Position-gate breaches (drawdown, loss streak) also demand action.
		res = e.gates.CheckPosition(e.ledger.Snapshot())
		e.recordGate("position", res)
	}

	switch res.Verdict {
	case risk.Halt:
		e.halt(ctx, res.Reasons)
	case risk.ForceExit:
		e.flatten(ctx, res.Reasons)
	}
}

// halt freezes the ledger and flattens the book. Idempotent across
// monitor cycles.
func (e *Engine) halt(ctx context.Context, reasons []string) {
	snap := e.ledger.Snapshot()
	if !snap.Halted {
		reason := "emergency halt"
		if len(reasons) > 0 {
			reason = reasons[0]
		}
		e.ledger.SetHalted(reason)
		e.logger.Error().Strs("reasons", reasons).Msg("trading halted")
		e.journalVerdict(ctx, "emergency", risk.TrackRegular, "*", risk.Halt.String(), 0, reasons)
	}
	e.flatten(ctx, reasons)
}

// flatten closes every open position at market.
func (e *Engine) flatten(ctx context.Context, reasons []string) {
	for _, pos := range e.book.list() {
		if err := e.ClosePosition(ctx, pos, reasons); err != nil {
			e.logger.Error().Err(err).Str("position", pos.ID).Msg("flatten close failed")
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
