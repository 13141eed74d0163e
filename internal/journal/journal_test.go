package journal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestRecordOpen_FillsRowID(t *testing.T) {
	j, mock := newMockJournal(t)

	opened := time.Date(2026, 3, 6, 14, 31, 0, 0, time.UTC)
	created := opened.Add(time.Millisecond)

	mock.ExpectQuery(`INSERT INTO trades`).
		WithArgs("intent-1", "regular", "SPY", "SPY-100C", "buy", 4, 2.51, opened).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	rec := &TradeRecord{
		IntentID:     "intent-1",
		Track:        "regular",
		Underlying:   "SPY",
		OptionSymbol: "SPY-100C",
		Side:         "buy",
		Quantity:     4,
		EntryPrice:   2.51,
		OpenedAt:     opened,
	}

	require.NoError(t, j.RecordOpen(context.Background(), rec))
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOpen_DuplicateIntent(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := j.RecordOpen(context.Background(), &TradeRecord{IntentID: "intent-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate trade")
}

func TestRecordClose_UpdatesRow(t *testing.T) {
	j, mock := newMockJournal(t)

	closed := time.Date(2026, 3, 6, 14, 35, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE trades`).
		WithArgs("intent-1", 3.10, 236.0, closed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, j.RecordClose(context.Background(), "intent-1", 3.10, 236.0, closed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordClose_UnknownIntent(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec(`UPDATE trades`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := j.RecordClose(context.Background(), "ghost", 3.10, 0, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trade with intent ghost")
}

func TestRecordVerdict_NilReasonsBecomeEmptyArray(t *testing.T) {
	j, mock := newMockJournal(t)

	at := time.Date(2026, 3, 6, 14, 31, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO verdicts`).
		WithArgs("entry", "regular", "SPY", "DENY", 0.0, pq.StringArray{}, at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), at))

	v := &VerdictRecord{Kind: "entry", Track: "regular", Symbol: "SPY", Verdict: "DENY", At: at}
	require.NoError(t, j.RecordVerdict(context.Background(), v))
	assert.Equal(t, int64(7), v.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentTrades_ScansNullableColumns(t *testing.T) {
	j, mock := newMockJournal(t)

	opened := time.Date(2026, 3, 6, 14, 31, 0, 0, time.UTC)
	cols := []string{
		"id", "intent_id", "track", "underlying", "option_symbol", "side",
		"quantity", "entry_price", "exit_price", "pnl", "opened_at", "closed_at", "created_at",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(2), "intent-2", "anomaly", "SPY", "SPY-101C", "buy",
			2, 1.80, nil, nil, opened.Add(time.Minute), nil, opened.Add(time.Minute)).
		AddRow(int64(1), "intent-1", "regular", "SPY", "SPY-100C", "buy",
			4, 2.51, 3.10, 236.0, opened, opened.Add(4*time.Minute), opened)

	mock.ExpectQuery(`SELECT .+ FROM trades`).
		WithArgs(10).
		WillReturnRows(rows)

	trades, err := j.RecentTrades(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Nil(t, trades[0].PnL, "open trade has no realized pnl")
	require.NotNil(t, trades[1].PnL)
	assert.Equal(t, 236.0, *trades[1].PnL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionPnL(t *testing.T) {
	j, mock := newMockJournal(t)

	since := time.Date(2026, 3, 6, 14, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(pnl\), 0\)`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(512.25))

	total, err := j.SessionPnL(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 512.25, total)
}

func TestEnsureSchema(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS trades`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, j.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
