package risk

import "fmt"

// Level is an operator-selected risk appetite preset. Each level is a
// complete gate Config; explicit YAML overrides apply on top of it.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelExtreme
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string onto a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "extreme":
		return LevelExtreme, nil
	default:
		return LevelMedium, fmt.Errorf("risk: unknown level %q", s)
	}
}

// ConfigForLevel returns the gate limits for a risk appetite. Medium is
// the production default; low halves the per-trade and daily budgets,
// high and extreme widen them along with the drawdown ceilings.
func ConfigForLevel(level Level) *Config {
	cfg := DefaultConfig()
	switch level {
	case LevelLow:
		cfg.MaxTradeRiskPct = 1
		cfg.MaxDailyRiskPct = 5
		cfg.MaxConcurrent = 2
		cfg.WeeklyDrawdownPct = 10
		cfg.MonthlyDrawdownPct = 15
		cfg.MaxConsecutiveLosses = 2
	case LevelMedium:
		// DefaultConfig already is the medium preset.
	case LevelHigh:
		cfg.MaxTradeRiskPct = 3
		cfg.MaxDailyRiskPct = 15
		cfg.MaxConcurrent = 4
		cfg.WeeklyDrawdownPct = 20
		cfg.MonthlyDrawdownPct = 25
	case LevelExtreme:
		cfg.MaxTradeRiskPct = 5
		cfg.MaxDailyRiskPct = 20
		cfg.MaxConcurrent = 5
		cfg.WeeklyDrawdownPct = 25
		cfg.MonthlyDrawdownPct = 30
		cfg.MaxConsecutiveLosses = 4
	}
	return cfg
}
