package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/risk"
)

type stubSource struct {
	ledger    risk.LedgerSnapshot
	anomaly   anomaly.Snapshot
	connected bool
}

func (s *stubSource) RiskStatus() risk.LedgerSnapshot { return s.ledger }
func (s *stubSource) AnomalyStatus() anomaly.Snapshot { return s.anomaly }
func (s *stubSource) FeedConnected() bool             { return s.connected }

func serve(t *testing.T, source StatusSource, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := New(DefaultConfig(), source, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz_OKWhenFeedUp(t *testing.T) {
	source := &stubSource{connected: true}

	rec := serve(t, source, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["feed_connected"])
	assert.Equal(t, false, resp["halted"])
}

func TestHealthz_DegradedWhenFeedDown(t *testing.T) {
	source := &stubSource{connected: false}

	rec := serve(t, source, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

func TestHealthz_ReportsHalt(t *testing.T) {
	source := &stubSource{
		connected: true,
		ledger:    risk.LedgerSnapshot{Halted: true, HaltReason: "loss streak"},
	}

	rec := serve(t, source, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code, "a halt is not a transport failure")

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["halted"])
}

func TestStatusRisk_ReturnsLedgerSnapshot(t *testing.T) {
	source := &stubSource{
		connected: true,
		ledger: risk.LedgerSnapshot{
			Capital: 100_000,
			Tracks: map[risk.Track]risk.TrackState{
				risk.TrackRegular: {Allocation: 80_000, Committed: 1_200, OpenPositions: 1},
			},
			DailyPnL: -340.50,
		},
	}

	rec := serve(t, source, "/status/risk")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap risk.LedgerSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 100_000.0, snap.Capital)
	assert.Equal(t, -340.50, snap.DailyPnL)
	assert.Equal(t, 1, snap.Tracks[risk.TrackRegular].OpenPositions)
}

func TestStatusAnomaly_ReturnsDetectorSnapshot(t *testing.T) {
	source := &stubSource{
		connected: true,
		anomaly: anomaly.Snapshot{
			Tier:           anomaly.Level2,
			TierString:     "level2",
			PhaseString:    "golden_window",
			EntriesAllowed: true,
			SizingFactor:   1.0,
		},
	}

	rec := serve(t, source, "/status/anomaly")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap anomaly.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, anomaly.Level2, snap.Tier)
	assert.True(t, snap.EntriesAllowed)
	assert.Equal(t, 1.0, snap.SizingFactor)
}

func TestRoutes_RejectNonGET(t *testing.T) {
	srv := New(DefaultConfig(), &stubSource{connected: true}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpointServes(t *testing.T) {
	rec := serve(t, &stubSource{connected: true}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
