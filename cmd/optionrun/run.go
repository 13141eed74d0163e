package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/broker"
	"github.com/tradeforge/optionrun/internal/cache"
	"github.com/tradeforge/optionrun/internal/config"
	"github.com/tradeforge/optionrun/internal/engine"
	"github.com/tradeforge/optionrun/internal/exits"
	"github.com/tradeforge/optionrun/internal/feed"
	"github.com/tradeforge/optionrun/internal/httpapi"
	"github.com/tradeforge/optionrun/internal/journal"
	"github.com/tradeforge/optionrun/internal/metrics"
	"github.com/tradeforge/optionrun/internal/risk"
	"github.com/tradeforge/optionrun/internal/scorer"
	"github.com/tradeforge/optionrun/internal/signals"
	"github.com/tradeforge/optionrun/internal/tracks"
)

func runCmd() *cobra.Command {
	var entryEvery, exitEvery, monitorEvery time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live decision loop",
		Long:  "Connects the feed, serves the status API and drives the entry, exit and monitor loops until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setLogLevel(cfg.Log.Level, cfg.Log.Pretty)
			return runEngine(cmd.Context(), cfg, entryEvery, exitEvery, monitorEvery)
		},
	}
	cmd.Flags().DurationVar(&entryEvery, "entry-every", time.Second, "Entry evaluation interval")
	cmd.Flags().DurationVar(&exitEvery, "exit-every", time.Second, "Exit evaluation interval")
	cmd.Flags().DurationVar(&monitorEvery, "monitor-every", 5*time.Second, "Anomaly/emergency monitor interval")
	return cmd
}

func runEngine(ctx context.Context, cfg *config.Config, entryEvery, exitEvery, monitorEvery time.Duration) error {
	if cfg.Feed.URL == "" {
		return fmt.Errorf("run: feed.url is required for live mode")
	}
	wsFeed := feed.NewWSFeed(cfg.Feed.URL)

	reg := metrics.New(nil)
	wsFeed.OnMessage = func(msgType string) {
		reg.FeedMessages.WithLabelValues(msgType).Inc()
	}

	var priceCache *cache.Cache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		priceCache = cache.New(cache.NewRedisStore(client, cfg.Redis.Prefix), cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis pricing cache enabled")
	} else {
		priceCache = cache.New(cache.NewMemoryStore(), cfg.Redis.TTL)
	}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		jrnl, err = journal.Open(cfg.Journal.DSN, 5*time.Second)
		if err != nil {
			return err
		}
		defer jrnl.Close()
		if err := jrnl.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info().Msg("trade journal enabled")
	}

	quotes := engine.NewQuoteBook()
	paper := broker.NewPaper(quotes, cfg.Slippage)
	guarded := broker.NewGuarded(paper, cfg.Broker)

	ledger := risk.NewLedger(cfg.Capital, cfg.Tracks.Allocations())

	eng, err := engine.New(engine.Options{
		Symbols:        cfg.Symbols,
		MaxSnapshotAge: cfg.Feed.MaxSnapshotAge,
		Feed:           wsFeed,
		Broker:         guarded,
		Ledger:         ledger,
		Signals:        signals.NewEngine(&cfg.Signals),
		Scorer:         scorer.NewScorer(&cfg.Scorer),
		Exits:          exits.NewMatrix(&cfg.Exits),
		Gates:          risk.NewGates(&cfg.Risk),
		Detector:       anomaly.NewDetector(&cfg.Anomaly),
		Tracks:         tracks.NewOrchestrator(&cfg.Tracks),
		Cache:          priceCache,
		Journal:        jrnl,
		Metrics:        reg,
		Quotes:         quotes,
	}, &cfg.Risk)
	if err != nil {
		return err
	}

	server := httpapi.New(cfg.HTTP, eng, nil)

	errCh := make(chan error, 3)
	go func() { errCh <- wsFeed.Run(ctx) }()
	go func() { errCh <- server.Run(ctx) }()
	go func() { errCh <- eng.Run(ctx, entryEvery, exitEvery, monitorEvery) }()

	err = <-errCh
	if err == context.Canceled {
		log.Info().Msg("shutdown complete")
		return nil
	}
	return err
}
