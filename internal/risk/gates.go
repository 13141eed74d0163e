package risk

import (
	"fmt"
	"time"
)

// Verdict is the binding outcome of a gate evaluation.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	ForceExit
	Halt
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "ALLOW"
	case Deny:
		return "DENY"
	case ForceExit:
		return "FORCE_EXIT"
	case Halt:
		return "HALT"
	default:
		return "unknown"
	}
}

// Config holds the three gate layers' limits.
type Config struct {
	// Entry gate
	MaxTradeRiskPct  float64       `yaml:"max_trade_risk_pct" default:"2"`  // of capital, per trade
	MaxDailyRiskPct  float64       `yaml:"max_daily_risk_pct" default:"10"` // cumulative per day
	MaxConcurrent    int           `yaml:"max_concurrent" default:"3"`
	MinTradeInterval time.Duration `yaml:"min_trade_interval" default:"3s"`

	// Position gate
	WeeklyDrawdownPct    float64 `yaml:"weekly_drawdown_pct" default:"15"`
	MonthlyDrawdownPct   float64 `yaml:"monthly_drawdown_pct" default:"20"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" default:"3"`
}

// DefaultConfig returns the production risk limits.
func DefaultConfig() *Config {
	return &Config{
		MaxTradeRiskPct:      2,
		MaxDailyRiskPct:      10,
		MaxConcurrent:        3,
		MinTradeInterval:     3 * time.Second,
		WeeklyDrawdownPct:    15,
		MonthlyDrawdownPct:   20,
		MaxConsecutiveLosses: 3,
	}
}

// GateCheck is one rule's evaluation, kept for auditability.
type GateCheck struct {
	Name        string `json:"name"`
	Passed      bool   `json:"passed"`
	Description string `json:"description"`
}

// GateResult is the verdict plus the reasons callers log or alert on.
type GateResult struct {
	Verdict Verdict     `json:"verdict"`
	Reasons []string    `json:"reasons,omitempty"`
	Checks  []GateCheck `json:"checks"`
}

// Allowed reports whether the action may proceed.
func (r *GateResult) Allowed() bool {
	return r.Verdict == Allow
}

// EntryRequest is a proposed new position.
type EntryRequest struct {
	Track   Track     `json:"track"`
	Symbol  string    `json:"symbol"`
	Capital float64   `json:"capital"` // dollars at risk
	At      time.Time `json:"at"`
}

// EmergencySignals are the triggers escalating straight to a halt.
type EmergencySignals struct {
	ConnectivityLost  bool   `json:"connectivity_lost"`
	ExtremeVolatility bool   `json:"extreme_volatility"`
	SystemicAnomaly   bool   `json:"systemic_anomaly"`
	Detail            string `json:"detail,omitempty"`
}

// Gates evaluates the three layers against ledger snapshots. All methods
// are pure decision functions; ledger mutation stays with the caller and
// happens only on accepted intents or actual closes.
type Gates struct {
	config *Config
}

// NewGates creates the gate evaluator.
func NewGates(config *Config) *Gates {
	if config == nil {
		config = DefaultConfig()
	}
	return &Gates{config: config}
}

// CheckEntry is the first layer: it vets a proposed position against
// per-trade risk, concurrency, daily cumulative risk, and trade pacing.
// Monotonic in the request: raising Capital on an otherwise-identical
// request can only flip ALLOW to DENY.
func (g *Gates) CheckEntry(snap LedgerSnapshot, req EntryRequest) *GateResult {
	res := &GateResult{Verdict: Allow}

	if snap.Halted {
		res.Verdict = Deny
		res.Reasons = append(res.Reasons, "trading halted: "+snap.HaltReason)
		return res
	}

	ts, ok := snap.Tracks[req.Track]
	if !ok {
		res.Verdict = Deny
		res.Reasons = append(res.Reasons, fmt.Sprintf("unknown track %s", req.Track))
		return res
	}

	maxTradeRisk := snap.Capital * g.config.MaxTradeRiskPct / 100
	g.check(res, "per_trade_risk", req.Capital <= maxTradeRisk,
		fmt.Sprintf("trade risk $%.2f vs limit $%.2f (%.1f%% of capital)", req.Capital, maxTradeRisk, g.config.MaxTradeRiskPct))

	g.check(res, "concurrent_positions", ts.OpenPositions < g.config.MaxConcurrent,
		fmt.Sprintf("open positions %d vs limit %d", ts.OpenPositions, g.config.MaxConcurrent))

	maxDailyRisk := snap.Capital * g.config.MaxDailyRiskPct / 100
	g.check(res, "daily_risk", snap.DailyRiskUsed+req.Capital <= maxDailyRisk,
		fmt.Sprintf("daily risk $%.2f+$%.2f vs limit $%.2f", snap.DailyRiskUsed, req.Capital, maxDailyRisk))

	g.check(res, "trade_interval", ts.LastTradeTime.IsZero() || req.At.Sub(ts.LastTradeTime) >= g.config.MinTradeInterval,
		fmt.Sprintf("since last trade %s vs minimum %s", req.At.Sub(ts.LastTradeTime).Round(time.Millisecond), g.config.MinTradeInterval))

	g.check(res, "track_allocation", ts.Committed+req.Capital <= ts.Allocation,
		fmt.Sprintf("track committed $%.2f+$%.2f vs allocation $%.2f", ts.Committed, req.Capital, ts.Allocation))

	return res
}

// CheckPosition is the second layer: continuous re-evaluation of open
// exposure against drawdown ceilings and the loss streak. On breach it
// forces exits (drawdown) or halts (loss streak).
func (g *Gates) CheckPosition(snap LedgerSnapshot) *GateResult {
	res := &GateResult{Verdict: Allow}

	weeklyLimit := -snap.Capital * g.config.WeeklyDrawdownPct / 100
	if snap.WeeklyPnL <= weeklyLimit {
		res.Verdict = ForceExit
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("weekly drawdown breach: $%.2f ≤ $%.2f (%.0f%% of capital)", snap.WeeklyPnL, weeklyLimit, g.config.WeeklyDrawdownPct))
	}

	monthlyLimit := -snap.Capital * g.config.MonthlyDrawdownPct / 100
	if snap.MonthlyPnL <= monthlyLimit {
		res.Verdict = ForceExit
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("monthly drawdown breach: $%.2f ≤ $%.2f (%.0f%% of capital)", snap.MonthlyPnL, monthlyLimit, g.config.MonthlyDrawdownPct))
	}

	if snap.ConsecutiveLosses >= g.config.MaxConsecutiveLosses {
		res.Verdict = Halt
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("loss streak: %d consecutive losing closes (limit %d)", snap.ConsecutiveLosses, g.config.MaxConsecutiveLosses))
	}

	return res
}

// CheckEmergency is the third layer: connectivity loss, extreme volatility,
// or systemic anomaly force closure of everything and a halt until cleared.
func (g *Gates) CheckEmergency(signals EmergencySignals) *GateResult {
	res := &GateResult{Verdict: Allow}

	if signals.ConnectivityLost {
		res.Verdict = Halt
		res.Reasons = append(res.Reasons, "connectivity lost: close all positions and halt")
	}
	if signals.ExtremeVolatility {
		res.Verdict = Halt
		res.Reasons = append(res.Reasons, "extreme volatility: close all positions and halt")
	}
	if signals.SystemicAnomaly {
		res.Verdict = Halt
		res.Reasons = append(res.Reasons, "systemic anomaly: close all positions and halt")
	}
	if res.Verdict == Halt && signals.Detail != "" {
		res.Reasons = append(res.Reasons, signals.Detail)
	}

	return res
}

func (g *Gates) check(res *GateResult, name string, passed bool, desc string) {
	res.Checks = append(res.Checks, GateCheck{Name: name, Passed: passed, Description: desc})
	if !passed {
		res.Verdict = Deny
		res.Reasons = append(res.Reasons, name+" failed: "+desc)
	}
}
