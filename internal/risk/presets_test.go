package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"low": LevelLow, "medium": LevelMedium, "high": LevelHigh, "extreme": LevelExtreme,
	} {
		got, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, s, got.String())
	}

	_, err := ParseLevel("yolo")
	assert.Error(t, err)
}

func TestConfigForLevel_MediumIsDefault(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigForLevel(LevelMedium))
}

func TestConfigForLevel_BudgetsWidenMonotonically(t *testing.T) {
	low := ConfigForLevel(LevelLow)
	med := ConfigForLevel(LevelMedium)
	high := ConfigForLevel(LevelHigh)
	extreme := ConfigForLevel(LevelExtreme)

	assert.Less(t, low.MaxTradeRiskPct, med.MaxTradeRiskPct)
	assert.Less(t, med.MaxTradeRiskPct, high.MaxTradeRiskPct)
	assert.Less(t, high.MaxTradeRiskPct, extreme.MaxTradeRiskPct)

	assert.Less(t, low.MaxDailyRiskPct, med.MaxDailyRiskPct)
	assert.Less(t, high.WeeklyDrawdownPct, extreme.WeeklyDrawdownPct)
	assert.LessOrEqual(t, low.MaxConcurrent, med.MaxConcurrent)
}

func TestConfigForLevel_LowTightensLossStreak(t *testing.T) {
	assert.Equal(t, 2, ConfigForLevel(LevelLow).MaxConsecutiveLosses)
	assert.Equal(t, 4, ConfigForLevel(LevelExtreme).MaxConsecutiveLosses)
}
