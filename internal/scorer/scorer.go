// Package scorer screens an option chain against hard eligibility rules and
// ranks the survivors by a weighted 0–100 composite score. Candidates that
// fail eligibility land in the rejected list with per-rule reasons; they are
// never an error to the caller.
package scorer

import (
	"fmt"
	"sort"
	"time"

	"github.com/tradeforge/optionrun/internal/market"
)

// Config holds the eligibility thresholds and scoring benchmarks.
type Config struct {
	// Hard eligibility
	MinDeltaAbs     float64 `yaml:"min_delta_abs" default:"0.25"`
	MaxDeltaAbs     float64 `yaml:"max_delta_abs" default:"0.75"`
	MinGamma        float64 `yaml:"min_gamma" default:"0.01"`
	MaxThetaRatio   float64 `yaml:"max_theta_ratio" default:"0.10"` // |theta| vs option price
	MinVega         float64 `yaml:"min_vega" default:"0.01"`
	MinVolume1h     int64   `yaml:"min_volume_1h" default:"50"`
	MinOpenInterest int64   `yaml:"min_open_interest" default:"100"`
	MinAvgTradeSize float64 `yaml:"min_avg_trade_size" default:"1"`
	MaxSpreadAbs    float64 `yaml:"max_spread_abs" default:"0.03"` // dollars

	// Pre-filter: only strikes within ±band of the underlying are considered
	StrikeBandPct float64 `yaml:"strike_band_pct" default:"0.02"`

	// Subscore benchmarks
	VolumeBenchmark int64   `yaml:"volume_benchmark" default:"100"`
	OIBenchmark     int64   `yaml:"oi_benchmark" default:"1000"`
	IdealDelta      float64 `yaml:"ideal_delta" default:"0.5"`
	GammaMultiplier float64 `yaml:"gamma_multiplier" default:"1000"`

	TopN int `yaml:"top_n" default:"5"`
}

// DefaultConfig returns production eligibility thresholds and benchmarks.
func DefaultConfig() *Config {
	return &Config{
		MinDeltaAbs:     0.25,
		MaxDeltaAbs:     0.75,
		MinGamma:        0.01,
		MaxThetaRatio:   0.10,
		MinVega:         0.01,
		MinVolume1h:     50,
		MinOpenInterest: 100,
		MinAvgTradeSize: 1,
		MaxSpreadAbs:    0.03,
		StrikeBandPct:   0.02,
		VolumeBenchmark: 100,
		OIBenchmark:     1000,
		IdealDelta:      0.5,
		GammaMultiplier: 1000,
		TopN:            5,
	}
}

// Filter overrides individual eligibility thresholds for one scoring pass.
// Nil fields keep the configured value.
type Filter struct {
	MinVolume1h     *int64
	MinOpenInterest *int64
	MaxSpreadAbs    *float64
	MinGamma        *float64
}

// Breakdown is the per-category score split kept on every candidate for
// auditability.
type Breakdown struct {
	Liquidity float64 `json:"liquidity"`
	Spread    float64 `json:"spread"`
	Greeks    float64 `json:"greeks"`
	Value     float64 `json:"value"`
}

// ScoredOption is one ranked candidate. Created fresh per scoring pass.
type ScoredOption struct {
	Quote     market.OptionQuote `json:"quote"`
	Score     float64            `json:"score"`
	Breakdown Breakdown          `json:"breakdown"`
	Rank      int                `json:"rank"`
	PinRisk   bool               `json:"pin_risk"`
}

// RejectedOption records a candidate excluded by eligibility, with reasons.
type RejectedOption struct {
	Symbol  string   `json:"symbol"`
	Strike  float64  `json:"strike"`
	Right   string   `json:"right"`
	Reasons []string `json:"reasons"`
}

// Result is one complete scoring pass over a chain.
type Result struct {
	Underlying   string           `json:"underlying"`
	Profile      Profile          `json:"profile"`
	CurrentPrice float64          `json:"current_price"`
	Timestamp    time.Time        `json:"timestamp"`
	Calls        []ScoredOption   `json:"calls"`
	Puts         []ScoredOption   `json:"puts"`
	Rejected     []RejectedOption `json:"rejected"`
	Considered   int              `json:"considered"`
}

// Scorer evaluates chains. Pure; performs no I/O.
type Scorer struct {
	config *Config
}

// NewScorer creates a scorer.
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// Score filters and ranks one chain snapshot against the current underlying
// price. Quotes failing sanity validation or eligibility are reported in
// Rejected, never ranked.
func (s *Scorer) Score(chain *market.Chain, currentPrice float64, profile Profile, filter *Filter) (*Result, error) {
	weights, err := WeightsFor(profile)
	if err != nil {
		return nil, err
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		Underlying:   chain.Underlying,
		Profile:      profile,
		CurrentPrice: currentPrice,
		Timestamp:    chain.Timestamp,
	}

	band := currentPrice * s.config.StrikeBandPct
	var calls, puts []ScoredOption
	for i := range chain.Quotes {
		q := chain.Quotes[i]
		if q.Strike < currentPrice-band || q.Strike > currentPrice+band {
			continue
		}
		res.Considered++

		if q.Greeks.Delta == 0 && q.Greeks.Gamma == 0 {
			// Quote arrived without Greeks; estimate delta so eligibility
			// still has something to work with.
			q.Greeks.Delta = market.EstimateDelta(currentPrice, q.Strike, q.Right)
		}

		if v := market.ValidateQuote(&q, currentPrice); !v.Valid {
			res.Rejected = append(res.Rejected, rejected(&q, validationReasons(v)))
			continue
		}

		if reasons := s.eligibility(&q, filter); len(reasons) > 0 {
			res.Rejected = append(res.Rejected, rejected(&q, reasons))
			continue
		}

		scored := ScoredOption{
			Quote:   q,
			PinRisk: market.HighGammaRisk(&q, currentPrice),
		}
		scored.Breakdown = s.breakdown(&q, currentPrice)
		scored.Score = clampScore(weights.Liquidity*scored.Breakdown.Liquidity +
			weights.Spread*scored.Breakdown.Spread +
			weights.Greeks*scored.Breakdown.Greeks +
			weights.Value*scored.Breakdown.Value)

		if q.Right == market.Call {
			calls = append(calls, scored)
		} else {
			puts = append(puts, scored)
		}
	}

	res.Calls = rank(calls, s.config.TopN)
	res.Puts = rank(puts, s.config.TopN)
	return res, nil
}

// eligibility returns the list of hard rules the quote fails; empty means
// the candidate may be scored.
func (s *Scorer) eligibility(q *market.OptionQuote, filter *Filter) []string {
	minVolume := s.config.MinVolume1h
	minOI := s.config.MinOpenInterest
	maxSpread := s.config.MaxSpreadAbs
	minGamma := s.config.MinGamma
	if filter != nil {
		if filter.MinVolume1h != nil {
			minVolume = *filter.MinVolume1h
		}
		if filter.MinOpenInterest != nil {
			minOI = *filter.MinOpenInterest
		}
		if filter.MaxSpreadAbs != nil {
			maxSpread = *filter.MaxSpreadAbs
		}
		if filter.MinGamma != nil {
			minGamma = *filter.MinGamma
		}
	}

	var reasons []string
	deltaAbs := abs(q.Greeks.Delta)
	if deltaAbs < s.config.MinDeltaAbs || deltaAbs > s.config.MaxDeltaAbs {
		reasons = append(reasons, fmt.Sprintf("|delta| %.3f outside [%.2f, %.2f]", deltaAbs, s.config.MinDeltaAbs, s.config.MaxDeltaAbs))
	}
	if q.Greeks.Gamma < minGamma {
		reasons = append(reasons, fmt.Sprintf("gamma %.4f below %.4f", q.Greeks.Gamma, minGamma))
	}
	if price := q.EffectivePrice(); price > 0 && abs(q.Greeks.Theta) > s.config.MaxThetaRatio*price {
		reasons = append(reasons, fmt.Sprintf("|theta| %.4f above %.0f%% of price %.2f", abs(q.Greeks.Theta), s.config.MaxThetaRatio*100, price))
	}
	if q.Greeks.Vega < s.config.MinVega {
		reasons = append(reasons, fmt.Sprintf("vega %.4f below %.4f", q.Greeks.Vega, s.config.MinVega))
	}
	if q.Volume1h < minVolume {
		reasons = append(reasons, fmt.Sprintf("1h volume %d below %d", q.Volume1h, minVolume))
	}
	if q.OpenInterest < minOI {
		reasons = append(reasons, fmt.Sprintf("open interest %d below %d", q.OpenInterest, minOI))
	}
	if q.AvgTradeSize < s.config.MinAvgTradeSize {
		reasons = append(reasons, fmt.Sprintf("avg trade size %.1f below %.1f", q.AvgTradeSize, s.config.MinAvgTradeSize))
	}
	if spread := q.Spread(); spread > maxSpread {
		reasons = append(reasons, fmt.Sprintf("spread $%.3f above $%.3f", spread, maxSpread))
	}
	return reasons
}

func (s *Scorer) breakdown(q *market.OptionQuote, currentPrice float64) Breakdown {
	return Breakdown{
		Liquidity: s.liquidityScore(q),
		Spread:    s.spreadScore(q),
		Greeks:    s.greeksScore(q),
		Value:     s.valueScore(q, currentPrice),
	}
}

// liquidityScore rewards session volume against the benchmark (60%) and
// open interest against its benchmark (40%).
func (s *Scorer) liquidityScore(q *market.OptionQuote) float64 {
	volumeScore := 0.0
	if q.Volume > 0 {
		volumeScore = clampScore(float64(q.Volume) / float64(s.config.VolumeBenchmark) * 100)
	}
	oiScore := 0.0
	if q.OpenInterest > 0 {
		oiScore = clampScore(float64(q.OpenInterest) / float64(s.config.OIBenchmark) * 100)
	}
	return volumeScore*0.6 + oiScore*0.4
}

// spreadScore rewards tightness: 100 at zero spread, 50 at a 50% spread.
func (s *Scorer) spreadScore(q *market.OptionQuote) float64 {
	pct := q.SpreadPct()
	if pct > 0.5 {
		pct = 0.5
	}
	return (1 - pct) * 100
}

// greeksScore rewards delta proximity to the ideal (0.5) and gamma
// magnitude, split evenly.
func (s *Scorer) greeksScore(q *market.OptionQuote) float64 {
	deltaScore := 100 - abs(abs(q.Greeks.Delta)-s.config.IdealDelta)*200
	if deltaScore < 0 {
		deltaScore = 0
	}
	gammaScore := 0.0
	if q.Greeks.Gamma > 0 {
		gammaScore = clampScore(q.Greeks.Gamma * s.config.GammaMultiplier)
	}
	return deltaScore*0.5 + gammaScore*0.5
}

// valueScore blends the IV-smile deviation score (40%), moneyness (40%),
// and time-value ratio (20%). Low IV relative to the smile is rewarded.
func (s *Scorer) valueScore(q *market.OptionQuote, currentPrice float64) float64 {
	moneyness := q.Moneyness(currentPrice)

	ivScore := ivSmileScore(q.ImpliedVol, moneyness)

	moneynessScore := 100 - moneyness*2000
	if moneynessScore < 0 {
		moneynessScore = 0
	}

	tvScore := 0.0
	if tv := q.TimeValue(currentPrice); tv > 0 {
		tvScore = clampScore(tv * 100)
	}

	return ivScore*0.4 + moneynessScore*0.4 + tvScore*0.2
}

// ivSmileScore scores implied vol against a simplified smile baseline:
// full credit within 5% deviation, decaying to 70 at 10%, 40 at 15%,
// floored at 10 beyond that.
func ivSmileScore(iv, moneyness float64) float64 {
	if iv <= 0 {
		return 0
	}
	base := 0.18 + moneyness*0.1
	dev := abs(iv - base)
	switch {
	case dev < 0.05:
		return 100
	case dev < 0.10:
		return 100 - (dev-0.05)*600
	case dev < 0.15:
		return 70 - (dev-0.10)*600
	default:
		score := 40 - (dev-0.15)*200
		if score < 10 {
			return 10
		}
		return score
	}
}

// rank orders candidates by score, breaking ties by higher open interest
// then tighter spread, and keeps the top n with ranks assigned.
func rank(options []ScoredOption, n int) []ScoredOption {
	sort.SliceStable(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Quote.OpenInterest != b.Quote.OpenInterest {
			return a.Quote.OpenInterest > b.Quote.OpenInterest
		}
		return a.Quote.Spread() < b.Quote.Spread()
	})
	if len(options) > n {
		options = options[:n]
	}
	for i := range options {
		options[i].Rank = i + 1
	}
	return options
}

func rejected(q *market.OptionQuote, reasons []string) RejectedOption {
	return RejectedOption{
		Symbol:  q.Symbol,
		Strike:  q.Strike,
		Right:   q.Right.String(),
		Reasons: reasons,
	}
}

func validationReasons(v market.ValidationResult) []string {
	reasons := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		if issue.Fatal {
			reasons = append(reasons, "invalid quote: "+issue.Message)
		}
	}
	return reasons
}

func clampScore(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
