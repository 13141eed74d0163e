package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gateTime = time.Date(2026, 3, 6, 15, 30, 0, 0, time.UTC)

func healthySnapshot() LedgerSnapshot {
	return LedgerSnapshot{
		Timestamp: gateTime,
		Capital:   100_000,
		Tracks: map[Track]TrackState{
			TrackRegular: {Allocation: 80_000},
			TrackAnomaly: {Allocation: 20_000},
		},
	}
}

func entryReq(capital float64) EntryRequest {
	return EntryRequest{Track: TrackRegular, Symbol: "SPY", Capital: capital, At: gateTime}
}

func TestGates_CheckEntry_AllowsWithinLimits(t *testing.T) {
	gates := NewGates(nil)

	res := gates.CheckEntry(healthySnapshot(), entryReq(1500)) // under the 2% = $2000 cap
	assert.Equal(t, Allow, res.Verdict)
	assert.True(t, res.Allowed())
	assert.Empty(t, res.Reasons)
	assert.Len(t, res.Checks, 5, "every rule is evaluated and recorded")
}

func TestGates_CheckEntry_PerTradeRisk(t *testing.T) {
	gates := NewGates(nil)

	res := gates.CheckEntry(healthySnapshot(), entryReq(2500)) // above $2000
	assert.Equal(t, Deny, res.Verdict)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "per_trade_risk")
}

func TestGates_CheckEntry_ConcurrencyCap(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	ts := snap.Tracks[TrackRegular]
	ts.OpenPositions = 3
	snap.Tracks[TrackRegular] = ts

	res := gates.CheckEntry(snap, entryReq(1000))
	assert.Equal(t, Deny, res.Verdict)
	assert.Contains(t, res.Reasons[0], "concurrent_positions")
}

func TestGates_CheckEntry_DailyRiskBudget(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	snap.DailyRiskUsed = 9500 // $500 left of the 10% = $10000 budget

	res := gates.CheckEntry(snap, entryReq(1000))
	assert.Equal(t, Deny, res.Verdict)
	assert.Contains(t, res.Reasons[0], "daily_risk")
}

func TestGates_CheckEntry_TradePacing(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	ts := snap.Tracks[TrackRegular]
	ts.LastTradeTime = gateTime.Add(-time.Second) // 1s ago, 3s minimum
	snap.Tracks[TrackRegular] = ts

	res := gates.CheckEntry(snap, entryReq(1000))
	assert.Equal(t, Deny, res.Verdict)
	assert.Contains(t, res.Reasons[0], "trade_interval")
}

func TestGates_CheckEntry_HaltedDeniesEverything(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	snap.Halted = true
	snap.HaltReason = "loss streak"

	res := gates.CheckEntry(snap, entryReq(100))
	assert.Equal(t, Deny, res.Verdict)
	assert.Contains(t, res.Reasons[0], "trading halted")
}

// Adding violations to an allowed request can only push the verdict toward
// DENY, never back toward ALLOW.
func TestGates_CheckEntry_Monotonic(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	req := entryReq(1500)
	require.Equal(t, Allow, gates.CheckEntry(snap, req).Verdict)

	// One violation.
	req.Capital = 2500
	assert.Equal(t, Deny, gates.CheckEntry(snap, req).Verdict)

	// Stacking more violations keeps it denied, with more reasons.
	snap.DailyRiskUsed = 9900
	ts := snap.Tracks[TrackRegular]
	ts.OpenPositions = 5
	snap.Tracks[TrackRegular] = ts

	res := gates.CheckEntry(snap, req)
	assert.Equal(t, Deny, res.Verdict)
	assert.GreaterOrEqual(t, len(res.Reasons), 3)
}

func TestGates_CheckPosition_WeeklyDrawdownForcesExit(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	snap.WeeklyPnL = -16_000 // beyond the 15% = $15000 limit

	res := gates.CheckPosition(snap)
	assert.Equal(t, ForceExit, res.Verdict)
	assert.Contains(t, res.Reasons[0], "weekly drawdown breach")
}

func TestGates_CheckPosition_LossStreakHalts(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	snap.ConsecutiveLosses = 3

	res := gates.CheckPosition(snap)
	assert.Equal(t, Halt, res.Verdict)
	assert.Contains(t, res.Reasons[0], "loss streak")
}

func TestGates_CheckPosition_LossStreakOutranksDrawdown(t *testing.T) {
	gates := NewGates(nil)

	snap := healthySnapshot()
	snap.WeeklyPnL = -16_000
	snap.ConsecutiveLosses = 4

	res := gates.CheckPosition(snap)
	assert.Equal(t, Halt, res.Verdict, "halt is the stronger verdict")
	assert.Len(t, res.Reasons, 2)
}

func TestGates_CheckEmergency(t *testing.T) {
	gates := NewGates(nil)

	assert.Equal(t, Allow, gates.CheckEmergency(EmergencySignals{}).Verdict)

	res := gates.CheckEmergency(EmergencySignals{ConnectivityLost: true, Detail: "ws feed down"})
	assert.Equal(t, Halt, res.Verdict)
	assert.Contains(t, res.Reasons[0], "connectivity lost")
	assert.Contains(t, res.Reasons[1], "ws feed down")
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "ALLOW", Allow.String())
	assert.Equal(t, "DENY", Deny.String())
	assert.Equal(t, "FORCE_EXIT", ForceExit.String())
	assert.Equal(t, "HALT", Halt.String())
}
