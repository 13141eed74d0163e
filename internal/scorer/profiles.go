package scorer

import "fmt"

// Profile selects a category weight table. Profiles are a closed set of
// tagged configurations; the scoring algorithm itself never branches on
// the profile name.
type Profile string

const (
	ProfileLiquidity Profile = "liquidity"
	ProfileBalanced  Profile = "balanced"
	ProfileValue     Profile = "value"
)

// Weights is the per-category split of the composite score. Fractions,
// must sum to 1.0.
type Weights struct {
	Liquidity float64 `yaml:"liquidity" json:"liquidity"`
	Spread    float64 `yaml:"spread" json:"spread"`
	Greeks    float64 `yaml:"greeks" json:"greeks"`
	Value     float64 `yaml:"value" json:"value"`
}

// Sum returns the total weight, used for the sum-to-one check.
func (w Weights) Sum() float64 {
	return w.Liquidity + w.Spread + w.Greeks + w.Value
}

const weightSumEpsilon = 1e-9

// Validate rejects weight tables that do not sum to 1.0 within epsilon.
func (w Weights) Validate() error {
	diff := w.Sum() - 1.0
	if diff < -weightSumEpsilon || diff > weightSumEpsilon {
		return fmt.Errorf("scorer: weights sum to %.6f, want 1.0", w.Sum())
	}
	return nil
}

var profileWeights = map[Profile]Weights{
	ProfileLiquidity: {Liquidity: 0.5, Spread: 0.3, Greeks: 0.1, Value: 0.1},
	ProfileBalanced:  {Liquidity: 0.25, Spread: 0.25, Greeks: 0.25, Value: 0.25},
	ProfileValue:     {Liquidity: 0.2, Spread: 0.1, Greeks: 0.3, Value: 0.4},
}

// WeightsFor resolves a profile to its weight table.
func WeightsFor(p Profile) (Weights, error) {
	w, ok := profileWeights[p]
	if !ok {
		return Weights{}, fmt.Errorf("scorer: unknown profile %q", p)
	}
	return w, nil
}

// Profiles lists the known profile names.
func Profiles() []Profile {
	return []Profile{ProfileLiquidity, ProfileBalanced, ProfileValue}
}
