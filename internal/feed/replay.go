package feed

import (
	"context"
	"sync"

	"github.com/tradeforge/optionrun/internal/market"
)

// Replay is a deterministic in-memory feed. Tests and offline scans push
// snapshots and chains; versions are assigned monotonically per symbol
// when the pushed data carries none.
type Replay struct {
	mu        sync.RWMutex
	snapshots map[string]*market.Snapshot
	chains    map[string]*market.Chain
	versions  map[string]uint64
}

// NewReplay creates an empty replay feed.
func NewReplay() *Replay {
	return &Replay{
		snapshots: make(map[string]*market.Snapshot),
		chains:    make(map[string]*market.Chain),
		versions:  make(map[string]uint64),
	}
}

// PushSnapshot publishes a snapshot as the latest for its symbol.
func (r *Replay) PushSnapshot(snap market.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.Version == 0 {
		r.versions[snap.Symbol]++
		snap.Version = r.versions[snap.Symbol]
	} else if snap.Version > r.versions[snap.Symbol] {
		r.versions[snap.Symbol] = snap.Version
	}
	r.snapshots[snap.Symbol] = &snap
}

// PushChain publishes a chain as the latest for its underlying.
func (r *Replay) PushChain(chain market.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chain.Version == 0 {
		chain.Version = r.versions[chain.Underlying]
	}
	r.chains[chain.Underlying] = &chain
}

// Latest implements Feed.
func (r *Replay) Latest(_ context.Context, symbol string) (*market.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[symbol]
	if !ok {
		return nil, ErrNoData
	}
	copied := *snap
	return &copied, nil
}

// LatestChain implements Feed.
func (r *Replay) LatestChain(_ context.Context, underlying string) (*market.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.chains[underlying]
	if !ok {
		return nil, ErrNoData
	}
	copied := *chain
	return &copied, nil
}
