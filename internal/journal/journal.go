// Package journal persists trades and decision verdicts to PostgreSQL so a
// session can be reconstructed after the fact. Every entry evaluation and
// every position close writes a row; nothing in the decision path reads
// from the journal.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// TradeRecord is one opened (and possibly closed) position.
type TradeRecord struct {
	ID           int64      `db:"id" json:"id"`
	IntentID     string     `db:"intent_id" json:"intent_id"`
	Track        string     `db:"track" json:"track"`
	Underlying   string     `db:"underlying" json:"underlying"`
	OptionSymbol string     `db:"option_symbol" json:"option_symbol"`
	Side         string     `db:"side" json:"side"`
	Quantity     int        `db:"quantity" json:"quantity"`
	EntryPrice   float64    `db:"entry_price" json:"entry_price"`
	ExitPrice    *float64   `db:"exit_price" json:"exit_price,omitempty"`
	PnL          *float64   `db:"pnl" json:"pnl,omitempty"`
	OpenedAt     time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt     *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// VerdictRecord is one decision outcome: an entry gate result, an exit
// matrix verdict, or an emergency action.
type VerdictRecord struct {
	ID        int64          `db:"id" json:"id"`
	Kind      string         `db:"kind" json:"kind"` // entry, exit, emergency
	Track     string         `db:"track" json:"track"`
	Symbol    string         `db:"symbol" json:"symbol"`
	Verdict   string         `db:"verdict" json:"verdict"`
	Score     float64        `db:"score" json:"score"`
	Reasons   pq.StringArray `db:"reasons" json:"reasons"`
	At        time.Time      `db:"at" json:"at"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            BIGSERIAL PRIMARY KEY,
	intent_id     TEXT NOT NULL UNIQUE,
	track         TEXT NOT NULL,
	underlying    TEXT NOT NULL,
	option_symbol TEXT NOT NULL,
	side          TEXT NOT NULL,
	quantity      INT NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	exit_price    DOUBLE PRECISION,
	pnl           DOUBLE PRECISION,
	opened_at     TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS verdicts (
	id         BIGSERIAL PRIMARY KEY,
	kind       TEXT NOT NULL,
	track      TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	verdict    TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	reasons    TEXT[] NOT NULL DEFAULT '{}',
	at         TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades (opened_at DESC);
CREATE INDEX IF NOT EXISTS idx_verdicts_at ON verdicts (at DESC);
`

// Journal writes trade and verdict rows.
type Journal struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New builds a journal over an open connection.
func New(db *sqlx.DB, timeout time.Duration) *Journal {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Journal{db: db, timeout: timeout}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string, timeout time.Duration) (*Journal, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	return New(db, timeout), nil
}

// EnsureSchema creates the journal tables if they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal: ensure schema: %w", err)
	}
	return nil
}

// RecordOpen inserts a newly opened trade and fills in its row ID.
func (j *Journal) RecordOpen(ctx context.Context, t *TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (intent_id, track, underlying, option_symbol, side, quantity, entry_price, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := j.db.QueryRowxContext(ctx, query,
		t.IntentID, t.Track, t.Underlying, t.OptionSymbol,
		t.Side, t.Quantity, t.EntryPrice, t.OpenedAt).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("journal: duplicate trade: %w", err)
		}
		return fmt.Errorf("journal: record open: %w", err)
	}
	return nil
}

// RecordClose stamps the exit on a previously opened trade.
func (j *Journal) RecordClose(ctx context.Context, intentID string, exitPrice, pnl float64, closedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		UPDATE trades
		SET exit_price = $2, pnl = $3, closed_at = $4
		WHERE intent_id = $1`

	res, err := j.db.ExecContext(ctx, query, intentID, exitPrice, pnl, closedAt)
	if err != nil {
		return fmt.Errorf("journal: record close: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal: record close: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("journal: no trade with intent %s", intentID)
	}
	return nil
}

// RecordVerdict inserts one decision outcome.
func (j *Journal) RecordVerdict(ctx context.Context, v *VerdictRecord) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO verdicts (kind, track, symbol, verdict, score, reasons, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	reasons := v.Reasons
	if reasons == nil {
		reasons = pq.StringArray{}
	}

	err := j.db.QueryRowxContext(ctx, query,
		v.Kind, v.Track, v.Symbol, v.Verdict, v.Score, reasons, v.At).
		Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("journal: record verdict: %w", err)
	}
	return nil
}

// RecentTrades returns the latest trades, newest first.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		SELECT id, intent_id, track, underlying, option_symbol, side, quantity,
		       entry_price, exit_price, pnl, opened_at, closed_at, created_at
		FROM trades
		ORDER BY opened_at DESC
		LIMIT $1`

	var out []TradeRecord
	if err := j.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("journal: recent trades: %w", err)
	}
	return out, nil
}

// SessionPnL sums realized PnL for trades closed at or after the given time.
func (j *Journal) SessionPnL(ctx context.Context, since time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE closed_at IS NOT NULL AND closed_at >= $1`

	var total float64
	err := j.db.QueryRowxContext(ctx, query, since).Scan(&total)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("journal: session pnl: %w", err)
	}
	return total, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	return j.db.Close()
}
