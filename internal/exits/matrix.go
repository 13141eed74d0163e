// Package exits implements the dynamic exit decision matrix. Every
// evaluation accumulates a continuous score from PnL, time pressure,
// Greeks drift, and market-regime adjustments, then classifies it into an
// action tier. Evaluation is pure and idempotent: identical inputs always
// produce the identical verdict.
package exits

import (
	"fmt"
	"time"
)

// Tier is the classified exit action.
type Tier int

const (
	Hold Tier = iota
	Watch
	ActiveExit
	EmergencyExit
)

func (t Tier) String() string {
	switch t {
	case Hold:
		return "HOLD"
	case Watch:
		return "WATCH"
	case ActiveExit:
		return "ACTIVE_EXIT"
	case EmergencyExit:
		return "EMERGENCY_EXIT"
	default:
		return "unknown"
	}
}

// Config holds the exit matrix thresholds. The horizon and adjustments are
// empirically tuned defaults, configurable rather than invariant.
type Config struct {
	// PnL triggers (percent)
	ProfitTargetPct  float64 `yaml:"profit_target_pct" default:"40"`
	StopLossPct      float64 `yaml:"stop_loss_pct" default:"-25"`
	PartialProfitPct float64 `yaml:"partial_profit_pct" default:"30"`

	// Time pressure
	HoldHorizon time.Duration `yaml:"hold_horizon" default:"6m"`

	// Greeks drift term
	DeltaDriftWeight  float64 `yaml:"delta_drift_weight" default:"100"`
	GammaDecayWeight  float64 `yaml:"gamma_decay_weight" default:"50"`
	ThetaImpactWeight float64 `yaml:"theta_impact_weight" default:"40"`
	GreeksDriftCap    float64 `yaml:"greeks_drift_cap" default:"60"`

	// Regime adjustments
	VolSpikeAdjust    float64 `yaml:"vol_spike_adjust" default:"-20"`
	VolumeDryUpAdjust float64 `yaml:"volume_dry_up_adjust" default:"40"`
	MomentumAdjust    float64 `yaml:"momentum_adjust" default:"30"`
	MomentumHoldAbove float64 `yaml:"momentum_hold_above" default:"0.8"`
	MomentumExitBelow float64 `yaml:"momentum_exit_below" default:"0.3"`

	// Tier boundaries
	EmergencyScore float64 `yaml:"emergency_score" default:"100"`
	ActiveScore    float64 `yaml:"active_score" default:"80"`
	WatchScore     float64 `yaml:"watch_score" default:"60"`
}

// DefaultConfig returns the production exit matrix configuration.
func DefaultConfig() *Config {
	return &Config{
		ProfitTargetPct:   40,
		StopLossPct:       -25,
		PartialProfitPct:  30,
		HoldHorizon:       6 * time.Minute,
		DeltaDriftWeight:  100,
		GammaDecayWeight:  50,
		ThetaImpactWeight: 40,
		GreeksDriftCap:    60,
		VolSpikeAdjust:    -20,
		VolumeDryUpAdjust: 40,
		MomentumAdjust:    30,
		MomentumHoldAbove: 0.8,
		MomentumExitBelow: 0.3,
		EmergencyScore:    100,
		ActiveScore:       80,
		WatchScore:        60,
	}
}

// GreeksDrift compares a position's entry Greeks against the current ones.
type GreeksDrift struct {
	EntryDelta   float64 `json:"entry_delta"`
	CurrentDelta float64 `json:"current_delta"`
	EntryGamma   float64 `json:"entry_gamma"`
	CurrentGamma float64 `json:"current_gamma"`
	CurrentTheta float64 `json:"current_theta"`
	Available    bool    `json:"available"`
}

// RegimeFlags carries the market-regime signals feeding the adjustment term.
type RegimeFlags struct {
	VolatilitySpike     bool    `json:"volatility_spike"`
	VolumeDryingUp      bool    `json:"volume_drying_up"`
	MomentumConsistency float64 `json:"momentum_consistency"` // 0–1
	MomentumValid       bool    `json:"momentum_valid"`
}

// Inputs is everything one exit evaluation needs. The caller supplies
// TimeHeld and derived PnL so the matrix itself never consults the clock.
type Inputs struct {
	Symbol   string        `json:"symbol"`
	PnLPct   float64       `json:"pnl_pct"` // unrealized, percent
	TimeHeld time.Duration `json:"time_held"`
	Drift    GreeksDrift   `json:"drift"`
	Regime   RegimeFlags   `json:"regime"`
}

// Verdict is one exit evaluation outcome. Ephemeral; recomputed per cycle.
type Verdict struct {
	Symbol     string   `json:"symbol"`
	Score      float64  `json:"score"`
	Tier       Tier     `json:"tier"`
	TierString string   `json:"tier_string"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

// Matrix evaluates exit decisions. Pure; performs no I/O.
type Matrix struct {
	config *Config
}

// NewMatrix creates an exit decision matrix.
func NewMatrix(config *Config) *Matrix {
	if config == nil {
		config = DefaultConfig()
	}
	return &Matrix{config: config}
}

// Evaluate computes the exit score and tier for one position state.
// Individual terms are uncapped (except the Greeks drift cap); the decision
// saturates at the emergency boundary.
func (m *Matrix) Evaluate(in Inputs) *Verdict {
	v := &Verdict{Symbol: in.Symbol, Confidence: 1.0}

	score := 0.0
	score += m.pnlTerm(in, v)
	score += m.timeTerm(in, v)
	score += m.greeksTerm(in, v)
	score += m.regimeTerm(in, v)

	v.Score = score
	switch {
	case score >= m.config.EmergencyScore:
		v.Tier = EmergencyExit
	case score >= m.config.ActiveScore:
		v.Tier = ActiveExit
	case score >= m.config.WatchScore:
		v.Tier = Watch
	default:
		v.Tier = Hold
	}
	v.TierString = v.Tier.String()

	if len(v.Reasons) == 0 {
		v.Reasons = append(v.Reasons, "no exit pressure")
	}
	return v
}

func (m *Matrix) pnlTerm(in Inputs, v *Verdict) float64 {
	switch {
	case in.PnLPct >= m.config.ProfitTargetPct:
		v.Reasons = append(v.Reasons, fmt.Sprintf("profit target hit: %+.1f%% ≥ %+.1f%%", in.PnLPct, m.config.ProfitTargetPct))
		return 100
	case in.PnLPct <= m.config.StopLossPct:
		v.Reasons = append(v.Reasons, fmt.Sprintf("stop loss hit: %+.1f%% ≤ %+.1f%%", in.PnLPct, m.config.StopLossPct))
		return 100
	case in.PnLPct >= m.config.PartialProfitPct:
		v.Reasons = append(v.Reasons, fmt.Sprintf("partial profit warning: %+.1f%% ≥ %+.1f%%", in.PnLPct, m.config.PartialProfitPct))
		return 70
	default:
		return 0
	}
}

// timeTerm ramps linearly to 100 across the hold horizon and pins at 100
// at or beyond it.
func (m *Matrix) timeTerm(in Inputs, v *Verdict) float64 {
	horizon := m.config.HoldHorizon
	if horizon <= 0 {
		return 0
	}
	if in.TimeHeld >= horizon {
		v.Reasons = append(v.Reasons, fmt.Sprintf("time pressure: held %s ≥ %s horizon", in.TimeHeld.Round(time.Second), horizon))
		return 100
	}
	frac := float64(in.TimeHeld) / float64(horizon)
	score := frac * 100
	if score >= 50 {
		v.Reasons = append(v.Reasons, fmt.Sprintf("time pressure building: %.0f%% of %s horizon", frac*100, horizon))
	}
	return score
}

func (m *Matrix) greeksTerm(in Inputs, v *Verdict) float64 {
	d := in.Drift
	if !d.Available {
		v.Confidence -= 0.2
		v.Reasons = append(v.Reasons, "greeks drift unavailable")
		return 0
	}

	deltaDrift := abs(d.CurrentDelta-d.EntryDelta) * m.config.DeltaDriftWeight

	gammaDecay := 0.0
	if d.EntryGamma > 0 && d.CurrentGamma < d.EntryGamma {
		gammaDecay = (d.EntryGamma - d.CurrentGamma) / d.EntryGamma * m.config.GammaDecayWeight
	}

	// Theta burn accumulated over the hold, relative magnitude.
	thetaImpact := abs(d.CurrentTheta) * in.TimeHeld.Minutes() * m.config.ThetaImpactWeight / 10

	score := deltaDrift + gammaDecay + thetaImpact
	if score > m.config.GreeksDriftCap {
		score = m.config.GreeksDriftCap
	}
	if score >= m.config.GreeksDriftCap/2 {
		v.Reasons = append(v.Reasons, fmt.Sprintf("greeks drift: delta %.2f→%.2f, gamma %.3f→%.3f", d.EntryDelta, d.CurrentDelta, d.EntryGamma, d.CurrentGamma))
	}
	return score
}

func (m *Matrix) regimeTerm(in Inputs, v *Verdict) float64 {
	score := 0.0

	if in.Regime.VolatilitySpike {
		score += m.config.VolSpikeAdjust
		v.Reasons = append(v.Reasons, "volatility spike active: holding favored")
	}
	if in.Regime.VolumeDryingUp {
		score += m.config.VolumeDryUpAdjust
		v.Reasons = append(v.Reasons, "volume drying up: exit favored")
	}

	if in.Regime.MomentumValid {
		switch {
		case in.Regime.MomentumConsistency > m.config.MomentumHoldAbove:
			score -= m.config.MomentumAdjust
			v.Reasons = append(v.Reasons, fmt.Sprintf("momentum consistent (%.2f): holding favored", in.Regime.MomentumConsistency))
		case in.Regime.MomentumConsistency < m.config.MomentumExitBelow:
			score += m.config.MomentumAdjust
			v.Reasons = append(v.Reasons, fmt.Sprintf("momentum broken (%.2f): exit favored", in.Regime.MomentumConsistency))
		}
	} else {
		v.Confidence -= 0.1
	}

	return score
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
