package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/cache"
	"github.com/tradeforge/optionrun/internal/exits"
	"github.com/tradeforge/optionrun/internal/feed"
	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/metrics"
	"github.com/tradeforge/optionrun/internal/risk"
	"github.com/tradeforge/optionrun/internal/tracks"
)

// risingSnapshot clears every confirmation layer: consistent upward
// momentum, a 2x volume spike with aligned flow, and a tight book.
func risingSnapshot(now time.Time) market.Snapshot {
	prices := []float64{99.0, 99.2, 99.3, 99.4, 99.5, 99.6, 99.7, 100.0}
	volumes := []int64{100, 200, 100, 100, 100, 100, 100, 300}

	history := make([]market.PricePoint, len(prices))
	for i := range prices {
		history[i] = market.PricePoint{
			Timestamp: now.Add(-time.Duration(len(prices)-1-i) * 10 * time.Second),
			Price:     prices[i],
			Volume:    volumes[i],
		}
	}

	return market.Snapshot{
		Symbol:         "SPY",
		Timestamp:      now,
		LastPrice:      100.0,
		Bid:            99.98,
		Ask:            100.02,
		BidSize:        600,
		AskSize:        600,
		History:        history,
		Volume1m:       2000,
		Volume5m:       5000,
		BuyVolume1m:    1600,
		SellVolume1m:   400,
		QuoteUpdates1m: 300,
		AvgQuoteDepth:  1000,
	}
}

// flatSnapshot drifts sideways; no layer should fire.
func flatSnapshot(now time.Time) market.Snapshot {
	snap := risingSnapshot(now)
	for i := range snap.History {
		snap.History[i].Price = 100.0
	}
	snap.Volume1m = 900 // below the 5-minute pace
	snap.BuyVolume1m = 450
	snap.SellVolume1m = 450
	return snap
}

// entryChain carries one contract per side that passes both the chain
// liquidity layer and scorer eligibility.
func entryChain(now time.Time) market.Chain {
	quote := func(symbol string, strike float64, right market.Right, delta float64) market.OptionQuote {
		return market.OptionQuote{
			Underlying:   "SPY",
			Symbol:       symbol,
			Strike:       strike,
			Right:        right,
			Expiry:       now.Add(4 * time.Hour),
			Last:         2.50,
			Bid:          2.49,
			Ask:          2.51,
			Volume:       120,
			Volume1h:     60,
			Volume1m:     60,
			OpenInterest: 150,
			AvgTradeSize: 5,
			QuoteFreq1m:  60,
			Greeks:       market.Greeks{Delta: delta, Gamma: 0.02, Theta: -0.075, Vega: 0.06},
			ImpliedVol:   0.22,
			Timestamp:    now,
		}
	}
	return market.Chain{
		Underlying: "SPY",
		Timestamp:  now,
		Quotes: []market.OptionQuote{
			quote("SPY-100C", 100, market.Call, 0.5),
			quote("SPY-100P", 100, market.Put, -0.5),
		},
	}
}

type testRig struct {
	engine *Engine
	feed   *feed.Replay
	paper  *broker.Paper
	ledger *risk.Ledger
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	replay := feed.NewReplay()
	quotes := NewQuoteBook()
	paper := broker.NewPaper(quotes, 0.01)
	ledger := risk.NewLedger(100_000, tracks.DefaultConfig().Allocations())

	eng, err := New(Options{
		Symbols: []string{"SPY"},
		Feed:    replay,
		Broker:  paper,
		Ledger:  ledger,
		Quotes:  quotes,
	}, nil)
	require.NoError(t, err)

	return &testRig{engine: eng, feed: replay, paper: paper, ledger: ledger}
}

func (r *testRig) push(snap market.Snapshot, chain market.Chain) {
	r.feed.PushSnapshot(snap)
	r.feed.PushChain(chain)
}

func TestEvaluateEntry_OpensPosition(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(risingSnapshot(now), entryChain(now))

	dec, err := rig.engine.EvaluateEntry(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, OutcomeOpened, dec.Outcome)
	assert.Equal(t, risk.TrackRegular, dec.Track)
	assert.Equal(t, "SPY-100C", dec.OptionSymbol, "upward momentum picks the call")

	require.NotNil(t, dec.Position)
	pos := dec.Position
	// 2% of 100k = $2000 risk budget; 8 contracts at the 2.52 slipped ask.
	assert.Equal(t, 8, pos.Quantity)
	assert.InDelta(t, 2.52, pos.EntryPrice, 1e-12)
	assert.Equal(t, 2000.0, pos.Committed)
	assert.Equal(t, market.Greeks{Delta: 0.5, Gamma: 0.02, Theta: -0.075, Vega: 0.06}, pos.EntryGreeks)

	snap := rig.ledger.Snapshot()
	assert.Equal(t, 2000.0, snap.Tracks[risk.TrackRegular].Committed)
	assert.Equal(t, 1, snap.Tracks[risk.TrackRegular].OpenPositions)
	assert.Len(t, rig.engine.OpenPositions(), 1)
}

func TestEvaluateEntry_NotConfirmed(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(flatSnapshot(now), entryChain(now))

	dec, err := rig.engine.EvaluateEntry(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNotConfirmed, dec.Outcome)
	assert.Empty(t, rig.engine.OpenPositions())
	assert.Zero(t, rig.ledger.Snapshot().Tracks[risk.TrackRegular].Committed)
}

func TestEvaluateEntry_StaleSnapshotSkipsCycle(t *testing.T) {
	rig := newTestRig(t)
	old := time.Now().Add(-10 * time.Second)
	rig.push(risingSnapshot(old), entryChain(old))

	_, err := rig.engine.EvaluateEntry(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrStaleSnapshot)
}

func TestEvaluateEntry_NoFeedData(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.engine.EvaluateEntry(context.Background(), "SPY")
	assert.ErrorIs(t, err, feed.ErrNoData)
}

func TestEvaluateEntry_TradeIntervalGateDeniesImmediateReentry(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(risingSnapshot(now), entryChain(now))
	ctx := context.Background()

	dec, err := rig.engine.EvaluateEntry(ctx, "SPY")
	require.NoError(t, err)
	require.Equal(t, OutcomeOpened, dec.Outcome)

	dec, err = rig.engine.EvaluateEntry(ctx, "SPY")
	require.NoError(t, err)
	assert.Equal(t, OutcomeGateDenied, dec.Outcome)
	assert.Len(t, rig.engine.OpenPositions(), 1, "second entry never reached the broker")
}

func TestEvaluateEntry_HaltClosesTracks(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(risingSnapshot(now), entryChain(now))
	rig.ledger.SetHalted("loss streak")

	dec, err := rig.engine.EvaluateEntry(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, OutcomeTrackClosed, dec.Outcome)
	assert.Empty(t, rig.engine.OpenPositions())
}

// bumpingFeed hands out a newer snapshot version on every read, so any
// signal is superseded by the time the engine re-checks.
type bumpingFeed struct {
	inner   *feed.Replay
	version atomic.Uint64
}

func (b *bumpingFeed) Latest(ctx context.Context, symbol string) (*market.Snapshot, error) {
	snap, err := b.inner.Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	snap.Version = b.version.Add(1)
	return snap, nil
}

func (b *bumpingFeed) LatestChain(ctx context.Context, underlying string) (*market.Chain, error) {
	return b.inner.LatestChain(ctx, underlying)
}

func TestEvaluateEntry_SupersededSnapshotNeverTrades(t *testing.T) {
	replay := feed.NewReplay()
	now := time.Now()
	replay.PushSnapshot(risingSnapshot(now))
	replay.PushChain(entryChain(now))

	quotes := NewQuoteBook()
	ledger := risk.NewLedger(100_000, tracks.DefaultConfig().Allocations())
	eng, err := New(Options{
		Symbols: []string{"SPY"},
		Feed:    &bumpingFeed{inner: replay},
		Broker:  broker.NewPaper(quotes, 0.01),
		Ledger:  ledger,
		Quotes:  quotes,
	}, nil)
	require.NoError(t, err)

	dec, err := eng.EvaluateEntry(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuperseded, dec.Outcome)
	assert.Empty(t, eng.OpenPositions())
	assert.Zero(t, ledger.Snapshot().Tracks[risk.TrackRegular].Committed, "no capital stays reserved")
}

func TestEvaluateEntry_BrokerRejectReleasesCapital(t *testing.T) {
	replay := feed.NewReplay()
	now := time.Now()
	replay.PushSnapshot(risingSnapshot(now))
	replay.PushChain(entryChain(now))

	// The paper broker quotes from an empty book, so every submit rejects.
	ledger := risk.NewLedger(100_000, tracks.DefaultConfig().Allocations())
	eng, err := New(Options{
		Symbols: []string{"SPY"},
		Feed:    replay,
		Broker:  broker.NewPaper(NewQuoteBook(), 0.01),
		Ledger:  ledger,
	}, nil)
	require.NoError(t, err)

	dec, err := eng.EvaluateEntry(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, dec.Outcome)
	assert.Empty(t, eng.OpenPositions())
	assert.Zero(t, ledger.Snapshot().Tracks[risk.TrackRegular].Committed)
}

func TestEvaluateExit_ProfitTargetWithBrokenMomentumCloses(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(risingSnapshot(now), entryChain(now))
	ctx := context.Background()

	dec, err := rig.engine.EvaluateEntry(ctx, "SPY")
	require.NoError(t, err)
	require.Equal(t, OutcomeOpened, dec.Outcome)
	pos := dec.Position

	// The underlying popped then stalled: profit target hit while both
	// short windows now point against the one-minute trend.
	later := time.Now()
	snap := risingSnapshot(later)
	snap.LastPrice = 100.0
	snap.History[4].Price = 100.5 // 30s reference above last
	snap.History[6].Price = 100.5 // 10s reference above last
	rig.feed.PushSnapshot(snap)

	chain := entryChain(later)
	chain.Quotes[0].Last = 3.60
	chain.Quotes[0].Bid = 3.58
	chain.Quotes[0].Ask = 3.62
	rig.feed.PushChain(chain)

	verdict, err := rig.engine.EvaluateExit(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, exits.EmergencyExit, verdict.Tier)

	rig.engine.evaluateExits(ctx)

	assert.Empty(t, rig.engine.OpenPositions())
	snap2 := rig.ledger.Snapshot()
	assert.Zero(t, snap2.Tracks[risk.TrackRegular].Committed)
	// Sold 8 contracts at the 3.57 slipped bid against a 2.52 entry.
	assert.InDelta(t, 840.0, snap2.DailyPnL, 1e-9)
}

func TestMonitorOnce_LossStreakHaltsAndFlattens(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.push(risingSnapshot(now), entryChain(now))
	ctx := context.Background()

	dec, err := rig.engine.EvaluateEntry(ctx, "SPY")
	require.NoError(t, err)
	require.Equal(t, OutcomeOpened, dec.Outcome)

	// Three straight losers trip the streak halt.
	for i := 0; i < 3; i++ {
		rig.ledger.RecordClose(risk.TrackRegular, 0, -100)
	}

	rig.engine.MonitorOnce(ctx)

	snap := rig.ledger.Snapshot()
	assert.True(t, snap.Halted)
	assert.Empty(t, rig.engine.OpenPositions(), "halt flattens the book")
}

func TestRegimeFor_GradedMomentumConsistency(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()

	// All three windows rising together.
	snap := risingSnapshot(now)
	flags := rig.engine.regimeFor(&snap)
	require.True(t, flags.MomentumValid)
	assert.Equal(t, 1.0, flags.MomentumConsistency)

	// Only the 30s window turns: half agreement, inside the neutral band.
	snap = risingSnapshot(now)
	snap.History[4].Price = 100.5
	flags = rig.engine.regimeFor(&snap)
	require.True(t, flags.MomentumValid)
	assert.Equal(t, 0.5, flags.MomentumConsistency)

	// Both short windows against the minute trend: fully broken.
	snap = risingSnapshot(now)
	snap.History[4].Price = 100.5
	snap.History[6].Price = 100.5
	flags = rig.engine.regimeFor(&snap)
	require.True(t, flags.MomentumValid)
	assert.Zero(t, flags.MomentumConsistency)

	// No history reaching back a minute leaves momentum unvalidated.
	snap = risingSnapshot(now)
	snap.History = nil
	flags = rig.engine.regimeFor(&snap)
	assert.False(t, flags.MomentumValid)
}

func TestMonitorOnce_PublishesCacheCounterDeltas(t *testing.T) {
	replay := feed.NewReplay()
	quotes := NewQuoteBook()
	promReg := prometheus.NewRegistry()
	reg := metrics.New(promReg)
	priceCache := cache.New(cache.NewMemoryStore(), time.Minute)

	eng, err := New(Options{
		Symbols: []string{"SPY"},
		Feed:    replay,
		Broker:  broker.NewPaper(quotes, 0.01),
		Ledger:  risk.NewLedger(100_000, tracks.DefaultConfig().Allocations()),
		Quotes:  quotes,
		Cache:   priceCache,
		Metrics: reg,
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	compute := func(context.Context) ([]byte, error) { return []byte(`{}`), nil }
	_, err = priceCache.GetOrCompute(ctx, "greeks:SPY:100.00", compute) // miss
	require.NoError(t, err)
	_, err = priceCache.GetOrCompute(ctx, "greeks:SPY:100.00", compute) // hit
	require.NoError(t, err)

	eng.MonitorOnce(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CacheHits.WithLabelValues("pricing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CacheMisses.WithLabelValues("pricing")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(reg.CacheHitRatio), 1e-9)

	// A quiet tick publishes no new deltas.
	eng.MonitorOnce(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CacheHits.WithLabelValues("pricing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CacheMisses.WithLabelValues("pricing")))
}

func TestRolloverDay_ResetsDailyCountersOnce(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.RecordClose(risk.TrackRegular, 0, 500)

	day1 := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	rig.engine.rolloverDay(day1)
	assert.Equal(t, 500.0, rig.ledger.Snapshot().DailyPnL, "first tick only anchors the date")

	rig.engine.rolloverDay(day1.Add(time.Minute))
	assert.Equal(t, 500.0, rig.ledger.Snapshot().DailyPnL)

	rig.engine.rolloverDay(day1.Add(24 * time.Hour))
	snap := rig.ledger.Snapshot()
	assert.Zero(t, snap.DailyPnL, "new session date clears the day counters")
	assert.Equal(t, 500.0, snap.WeeklyPnL, "longer windows roll forward")
}

func TestFeedConnected_ReplayAlwaysUp(t *testing.T) {
	rig := newTestRig(t)
	assert.True(t, rig.engine.FeedConnected())
}

func TestNew_RequiresCoreCollaborators(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)
}

func TestQuoteBook_AbsorbAndQuotePrice(t *testing.T) {
	book := NewQuoteBook()
	now := time.Now()
	chain := entryChain(now)
	book.Absorb(&chain)

	q, ok := book.Lookup("SPY-100C")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Strike)

	price, ok := book.QuotePrice("SPY-100C", broker.Buy)
	require.True(t, ok)
	assert.Equal(t, 2.51, price, "buys pay the ask")

	price, ok = book.QuotePrice("SPY-100C", broker.Sell)
	require.True(t, ok)
	assert.Equal(t, 2.49, price, "sells hit the bid")

	_, ok = book.QuotePrice("SPY-999C", broker.Buy)
	assert.False(t, ok)

	book.Absorb(nil) // tolerated
}
