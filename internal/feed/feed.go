// Package feed defines the market-data capability the engine consumes and
// two reference sources: a websocket adapter and a deterministic replay
// source for tests and offline scans.
package feed

import (
	"context"
	"errors"

	"github.com/tradeforge/optionrun/internal/market"
)

// ErrNoData is returned when a symbol has no snapshot or chain yet.
var ErrNoData = errors.New("feed: no data for symbol")

// Feed serves the latest snapshot and option chain per symbol. Versions
// are monotonic per symbol; callers tolerate stale-but-recent data and
// never block each other on the feed.
type Feed interface {
	Latest(ctx context.Context, symbol string) (*market.Snapshot, error)
	LatestChain(ctx context.Context, underlying string) (*market.Chain, error)
}
