package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionrun/internal/market"
)

// envelope is the wire format of the quote provider's stream.
type envelope struct {
	Type    string          `json:"type"` // "snapshot" or "chain"
	Payload json.RawMessage `json:"payload"`
}

// WSFeed consumes a websocket stream of snapshot and chain messages and
// serves the latest per symbol. The read loop assigns monotonic versions
// when the provider omits them and reconnects with backoff on failure.
type WSFeed struct {
	url string
	log zerolog.Logger

	// OnMessage, when set before Run, is invoked with each frame's
	// decoded type ("snapshot", "chain") or "invalid" for rejects.
	OnMessage func(msgType string)

	mu        sync.RWMutex
	connected bool
	snapshots map[string]*market.Snapshot
	chains    map[string]*market.Chain
	versions  map[string]uint64
}

// NewWSFeed creates a feed for the given stream URL. Run must be started
// before Latest returns data.
func NewWSFeed(url string) *WSFeed {
	return &WSFeed{
		url:       url,
		log:       log.With().Str("component", "ws_feed").Logger(),
		snapshots: make(map[string]*market.Snapshot),
		chains:    make(map[string]*market.Chain),
		versions:  make(map[string]uint64),
	}
}

// Run dials and consumes the stream until the context is cancelled,
// reconnecting with capped backoff.
func (w *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := w.consume(ctx); err != nil {
			w.setConnected(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream dropped, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (w *WSFeed) consume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	w.setConnected(true)
	w.log.Info().Str("url", w.url).Msg("stream connected")

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := w.handle(data); err != nil {
			w.log.Warn().Err(err).Msg("dropping malformed message")
		}
	}
}

func (w *WSFeed) handle(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.count("invalid")
		return fmt.Errorf("envelope: %w", err)
	}

	switch env.Type {
	case "snapshot":
		var snap market.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			w.count("invalid")
			return fmt.Errorf("snapshot payload: %w", err)
		}
		w.mu.Lock()
		if snap.Version == 0 {
			w.versions[snap.Symbol]++
			snap.Version = w.versions[snap.Symbol]
		} else if snap.Version > w.versions[snap.Symbol] {
			w.versions[snap.Symbol] = snap.Version
		}
		w.snapshots[snap.Symbol] = &snap
		w.mu.Unlock()
	case "chain":
		var chain market.Chain
		if err := json.Unmarshal(env.Payload, &chain); err != nil {
			w.count("invalid")
			return fmt.Errorf("chain payload: %w", err)
		}
		w.mu.Lock()
		if chain.Version == 0 {
			chain.Version = w.versions[chain.Underlying]
		}
		w.chains[chain.Underlying] = &chain
		w.mu.Unlock()
	default:
		w.count("invalid")
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	w.count(env.Type)
	return nil
}

func (w *WSFeed) count(msgType string) {
	if w.OnMessage != nil {
		w.OnMessage(msgType)
	}
}

// Connected reports stream health; feeds the emergency gate's
// connectivity-loss signal.
func (w *WSFeed) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *WSFeed) setConnected(up bool) {
	w.mu.Lock()
	w.connected = up
	w.mu.Unlock()
}

// Latest implements Feed.
func (w *WSFeed) Latest(_ context.Context, symbol string) (*market.Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap, ok := w.snapshots[symbol]
	if !ok {
		return nil, ErrNoData
	}
	copied := *snap
	return &copied, nil
}

// LatestChain implements Feed.
func (w *WSFeed) LatestChain(_ context.Context, underlying string) (*market.Chain, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	chain, ok := w.chains[underlying]
	if !ok {
		return nil, ErrNoData
	}
	copied := *chain
	return &copied, nil
}
