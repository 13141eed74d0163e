// Package engine wires the decision pipeline together: feed in, signal
// confirmation, option scoring, track orchestration, risk gates, broker
// out. It owns the only goroutines that mutate the ledger and the
// position book.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/cache"
	"github.com/tradeforge/optionrun/internal/exits"
	"github.com/tradeforge/optionrun/internal/feed"
	"github.com/tradeforge/optionrun/internal/journal"
	"github.com/tradeforge/optionrun/internal/market"
	"github.com/tradeforge/optionrun/internal/metrics"
	"github.com/tradeforge/optionrun/internal/pricing"
	"github.com/tradeforge/optionrun/internal/risk"
	"github.com/tradeforge/optionrun/internal/scorer"
	"github.com/tradeforge/optionrun/internal/signals"
	"github.com/tradeforge/optionrun/internal/tracks"
)

// ErrStaleSnapshot is returned when the freshest snapshot is already too
// old to act on. The cycle skips; no decision is made on stale data.
var ErrStaleSnapshot = errors.New("engine: snapshot too stale to act on")

// healthChecker is satisfied by the guarded broker.
type healthChecker interface {
	Healthy() bool
}

// connectable is satisfied by the websocket feed.
type connectable interface {
	Connected() bool
}

// Options collects the engine's collaborators. Feed, Ledger and Broker
// are required; the rest default to sensible in-process implementations.
type Options struct {
	Symbols        []string
	MaxSnapshotAge time.Duration

	Feed     feed.Feed
	Broker   broker.Broker
	Ledger   *risk.Ledger
	Signals  *signals.Engine
	Scorer   *scorer.Scorer
	Exits    *exits.Matrix
	Gates    *risk.Gates
	Detector *anomaly.Detector
	Tracks   *tracks.Orchestrator
	Pricer   pricing.GreeksProvider
	Cache    *cache.Cache
	Journal  *journal.Journal
	Metrics  *metrics.Registry
	Quotes   *QuoteBook
}

// Engine drives the dual-track decision loop.
type Engine struct {
	symbols        []string
	maxSnapshotAge time.Duration
	riskConfig     *risk.Config

	feed     feed.Feed
	broker   broker.Broker
	ledger   *risk.Ledger
	signals  *signals.Engine
	scorer   *scorer.Scorer
	exits    *exits.Matrix
	gates    *risk.Gates
	detector *anomaly.Detector
	tracks   *tracks.Orchestrator
	pricer   pricing.GreeksProvider
	cache    *cache.Cache
	journal  *journal.Journal
	metrics  *metrics.Registry
	quotes   *QuoteBook

	book           *book
	sessionDay     string // last session date seen by the monitor loop
	lastCacheStats cache.Stats
	logger         zerolog.Logger
}

// New assembles an engine. Collaborators left nil in opts get defaults;
// Feed, Broker and Ledger must be provided.
func New(opts Options, gateConfig *risk.Config) (*Engine, error) {
	if opts.Feed == nil || opts.Broker == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("engine: feed, broker and ledger are required")
	}
	if gateConfig == nil {
		gateConfig = risk.DefaultConfig()
	}
	if opts.Signals == nil {
		opts.Signals = signals.NewEngine(nil)
	}
	if opts.Scorer == nil {
		opts.Scorer = scorer.NewScorer(nil)
	}
	if opts.Exits == nil {
		opts.Exits = exits.NewMatrix(nil)
	}
	if opts.Gates == nil {
		opts.Gates = risk.NewGates(gateConfig)
	}
	if opts.Detector == nil {
		opts.Detector = anomaly.NewDetector(nil)
	}
	if opts.Tracks == nil {
		opts.Tracks = tracks.NewOrchestrator(nil)
	}
	if opts.Pricer == nil {
		opts.Pricer = pricing.NewBlackScholes()
	}
	if opts.Quotes == nil {
		opts.Quotes = NewQuoteBook()
	}
	if opts.MaxSnapshotAge <= 0 {
		opts.MaxSnapshotAge = 2 * time.Second
	}

	return &Engine{
		symbols:        opts.Symbols,
		maxSnapshotAge: opts.MaxSnapshotAge,
		riskConfig:     gateConfig,
		feed:           opts.Feed,
		broker:         opts.Broker,
		ledger:         opts.Ledger,
		signals:        opts.Signals,
		scorer:         opts.Scorer,
		exits:          opts.Exits,
		gates:          opts.Gates,
		detector:       opts.Detector,
		tracks:         opts.Tracks,
		pricer:         opts.Pricer,
		cache:          opts.Cache,
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		quotes:         opts.Quotes,
		book:           newBook(),
		logger:         log.With().Str("component", "engine").Logger(),
	}, nil
}

// RiskStatus implements httpapi.StatusSource.
func (e *Engine) RiskStatus() risk.LedgerSnapshot {
	return e.ledger.Snapshot()
}

// AnomalyStatus implements httpapi.StatusSource.
func (e *Engine) AnomalyStatus() anomaly.Snapshot {
	return e.detector.Status(time.Now())
}

// FeedConnected implements httpapi.StatusSource. Feeds without a health
// notion (replay) always report connected.
func (e *Engine) FeedConnected() bool {
	if c, ok := e.feed.(connectable); ok {
		return c.Connected()
	}
	return true
}

// OpenPositions returns a copy of the current position set.
func (e *Engine) OpenPositions() []*Position {
	return e.book.list()
}

// Run drives the three loops until ctx is canceled: entry evaluation,
// exit evaluation, and the anomaly/emergency monitor.
func (e *Engine) Run(ctx context.Context, entryEvery, exitEvery, monitorEvery time.Duration) error {
	entryTick := time.NewTicker(entryEvery)
	exitTick := time.NewTicker(exitEvery)
	monitorTick := time.NewTicker(monitorEvery)
	defer entryTick.Stop()
	defer exitTick.Stop()
	defer monitorTick.Stop()

	e.logger.Info().
		Strs("symbols", e.symbols).
		Dur("entry_every", entryEvery).
		Dur("exit_every", exitEvery).
		Msg("engine running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-monitorTick.C:
			e.MonitorOnce(ctx)
		case <-exitTick.C:
			e.evaluateExits(ctx)
		case <-entryTick.C:
			for _, sym := range e.symbols {
				if _, err := e.EvaluateEntry(ctx, sym); err != nil &&
					!errors.Is(err, ErrStaleSnapshot) && !errors.Is(err, feed.ErrNoData) {
					e.logger.Warn().Err(err).Str("symbol", sym).Msg("entry evaluation failed")
				}
			}
		}
	}
}

// freshSnapshot fetches the latest snapshot and rejects stale ones.
func (e *Engine) freshSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	snap, err := e.feed.Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if snap.Age(time.Now()) > e.maxSnapshotAge {
		return nil, fmt.Errorf("%w: %s is %s old", ErrStaleSnapshot, symbol, snap.Age(time.Now()))
	}
	return snap, nil
}

// greeksFor prices one contract, reading through the shared cache when
// one is configured. Quote Greeks win when the feed already carries them.
func (e *Engine) greeksFor(ctx context.Context, q *market.OptionQuote, underlying float64) (market.Greeks, error) {
	if q.Greeks != (market.Greeks{}) {
		return q.Greeks, nil
	}

	in := pricing.Inputs{
		Underlying: underlying,
		Strike:     q.Strike,
		Right:      q.Right,
		TimeToExp:  time.Until(q.Expiry),
		Volatility: q.ImpliedVol,
	}

	compute := func(ctx context.Context) ([]byte, error) {
		res, err := e.pricer.Price(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}

	var raw []byte
	var err error
	if e.cache != nil {
		key := fmt.Sprintf("greeks:%s:%.2f", q.Symbol, underlying)
		raw, err = e.cache.GetOrCompute(ctx, key, compute)
	} else {
		raw, err = compute(ctx)
	}
	if err != nil {
		return market.Greeks{}, err
	}

	var res pricing.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return market.Greeks{}, err
	}
	return res.Greeks, nil
}
