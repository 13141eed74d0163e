// Package signals implements the multi-layer signal confirmation engine.
// Four weighted layers (momentum, volume/flow, microstructure, option
// liquidity) each score 0–100; a layer with insufficient input contributes
// zero rather than erroring, so confirmation degrades gracefully.
package signals

import (
	"fmt"
	"time"

	"github.com/tradeforge/optionrun/internal/market"
)

// Config holds every confirmation threshold. Defaults match live tuning;
// all values are injectable, nothing here is duplicated elsewhere.
type Config struct {
	// Layer weights, must sum to 1.0
	MomentumWeight  float64 `yaml:"momentum_weight" default:"0.30"`
	VolumeWeight    float64 `yaml:"volume_weight" default:"0.25"`
	MicroWeight     float64 `yaml:"micro_weight" default:"0.20"`
	LiquidityWeight float64 `yaml:"liquidity_weight" default:"0.25"`

	// Combined score required for confirmation
	ConfirmThreshold float64 `yaml:"confirm_threshold" default:"70"`

	// Momentum layer: minimum absolute returns per window
	Momentum10s float64 `yaml:"momentum_10s" default:"0.001"`  // 0.1%
	Momentum30s float64 `yaml:"momentum_30s" default:"0.0015"` // 0.15%
	Momentum1m  float64 `yaml:"momentum_1m" default:"0.002"`   // 0.2%

	// Volume/flow layer
	VolumeSpikeRatio float64 `yaml:"volume_spike_ratio" default:"1.5"` // vs 5-min average
	MinPriceVolCorr  float64 `yaml:"min_price_vol_corr" default:"0.6"`
	MinFlowImbalance float64 `yaml:"min_flow_imbalance" default:"0.55"` // either side

	// Microstructure layer
	MaxSpreadPct      float64 `yaml:"max_spread_pct" default:"0.01"` // 1% of mid
	MinDepthRatio     float64 `yaml:"min_depth_ratio" default:"0.8"` // vs trailing average
	MaxQuoteUpdates1m int     `yaml:"max_quote_updates_1m" default:"600"`
	EMAFastSpan       int     `yaml:"ema_fast_span" default:"3"`
	EMASlowSpan       int     `yaml:"ema_slow_span" default:"8"`
	MinEMACrossPct    float64 `yaml:"min_ema_cross_pct" default:"0.001"` // 0.1%

	// Option liquidity layer
	MaxOptionSpreadPct float64 `yaml:"max_option_spread_pct" default:"0.05"` // 5% of mid
	MinOptionVolume1m  int64   `yaml:"min_option_volume_1m" default:"50"`
	MinOpenInterest    int64   `yaml:"min_open_interest" default:"100"`
	MinQuoteFreq1m     int     `yaml:"min_quote_freq_1m" default:"20"`
	MinIV              float64 `yaml:"min_iv" default:"0.1"`
	MaxIV              float64 `yaml:"max_iv" default:"0.8"`
	MaxIVChange30s     float64 `yaml:"max_iv_change_30s" default:"0.05"`
	StrikeBandPct      float64 `yaml:"strike_band_pct" default:"0.02"` // near-money filter
}

// DefaultConfig returns the production confirmation thresholds.
func DefaultConfig() *Config {
	return &Config{
		MomentumWeight:     0.30,
		VolumeWeight:       0.25,
		MicroWeight:        0.20,
		LiquidityWeight:    0.25,
		ConfirmThreshold:   70,
		Momentum10s:        0.001,
		Momentum30s:        0.0015,
		Momentum1m:         0.002,
		VolumeSpikeRatio:   1.5,
		MinPriceVolCorr:    0.6,
		MinFlowImbalance:   0.55,
		MaxSpreadPct:       0.01,
		MinDepthRatio:      0.8,
		MaxQuoteUpdates1m:  600,
		EMAFastSpan:        3,
		EMASlowSpan:        8,
		MinEMACrossPct:     0.001,
		MaxOptionSpreadPct: 0.05,
		MinOptionVolume1m:  50,
		MinOpenInterest:    100,
		MinQuoteFreq1m:     20,
		MinIV:              0.1,
		MaxIV:              0.8,
		MaxIVChange30s:     0.05,
		StrikeBandPct:      0.02,
	}
}

// Result is one confirmation attempt for one symbol. Short-lived.
type Result struct {
	Symbol          string    `json:"symbol"`
	Timestamp       time.Time `json:"timestamp"`
	SnapshotVersion uint64    `json:"snapshot_version"`

	MomentumScore  float64 `json:"momentum_score"`
	VolumeScore    float64 `json:"volume_score"`
	MicroScore     float64 `json:"micro_score"`
	LiquidityScore float64 `json:"liquidity_score"`

	CombinedScore float64  `json:"combined_score"`
	Confirmed     bool     `json:"confirmed"`
	Confidence    float64  `json:"confidence"` // fraction of layers with usable data
	Reasons       []string `json:"reasons"`
}

// Engine computes confirmation results. Pure; performs no I/O.
type Engine struct {
	config *Config
}

// NewEngine creates a confirmation engine.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// Confirm scores one snapshot plus the matching option chain.
func (e *Engine) Confirm(snap *market.Snapshot, chain *market.Chain) *Result {
	res := &Result{
		Symbol:          snap.Symbol,
		Timestamp:       snap.Timestamp,
		SnapshotVersion: snap.Version,
	}

	usable := 0.0

	momentum, ok, reasons := e.momentumLayer(snap)
	res.MomentumScore = momentum
	res.Reasons = append(res.Reasons, reasons...)
	if ok {
		usable += e.config.MomentumWeight
	}

	volume, ok, reasons := e.volumeLayer(snap)
	res.VolumeScore = volume
	res.Reasons = append(res.Reasons, reasons...)
	if ok {
		usable += e.config.VolumeWeight
	}

	micro, ok, reasons := e.microLayer(snap)
	res.MicroScore = micro
	res.Reasons = append(res.Reasons, reasons...)
	if ok {
		usable += e.config.MicroWeight
	}

	liquidity, ok, reasons := e.liquidityLayer(snap, chain)
	res.LiquidityScore = liquidity
	res.Reasons = append(res.Reasons, reasons...)
	if ok {
		usable += e.config.LiquidityWeight
	}

	res.CombinedScore = e.config.MomentumWeight*momentum +
		e.config.VolumeWeight*volume +
		e.config.MicroWeight*micro +
		e.config.LiquidityWeight*liquidity
	res.Confidence = usable
	res.Confirmed = res.CombinedScore >= e.config.ConfirmThreshold

	return res
}

// momentumLayer scores direction-consistent movement across 10s/30s/1m.
// Directions must agree and each window must clear its threshold.
func (e *Engine) momentumLayer(snap *market.Snapshot) (float64, bool, []string) {
	windows := []struct {
		d   time.Duration
		min float64
	}{
		{10 * time.Second, e.config.Momentum10s},
		{30 * time.Second, e.config.Momentum30s},
		{time.Minute, e.config.Momentum1m},
	}

	returns := make([]float64, 0, len(windows))
	for _, w := range windows {
		ret, ok := snap.Return(w.d)
		if !ok {
			return 0, false, []string{fmt.Sprintf("momentum: insufficient history for %s window", w.d)}
		}
		returns = append(returns, ret)
	}

	dir := sign(returns[0])
	if dir == 0 {
		return 0, true, []string{"momentum: flat 10s return"}
	}
	for i, ret := range returns {
		if sign(ret) != dir {
			return 0, true, []string{"momentum: window directions disagree"}
		}
		if abs(ret) < windows[i].min {
			return 0, true, []string{fmt.Sprintf("momentum: %s return %.4f%% below threshold", windows[i].d, abs(ret)*100)}
		}
	}

	// At threshold a window scores 50, saturating at 2× threshold.
	total := 0.0
	for i, ret := range returns {
		total += clamp(abs(ret)/windows[i].min*50, 0, 100)
	}
	return total / float64(len(returns)), true, nil
}

// volumeLayer scores the spike ratio, price/volume correlation, and
// aggressor imbalance of the trailing minute.
func (e *Engine) volumeLayer(snap *market.Snapshot) (float64, bool, []string) {
	if snap.Volume5m <= 0 || len(snap.History) < 3 {
		return 0, false, []string{"volume: insufficient trailing volume data"}
	}

	var reasons []string

	avg1m := float64(snap.Volume5m) / 5
	ratio := float64(snap.Volume1m) / avg1m
	spikeScore := 0.0
	if ratio >= e.config.VolumeSpikeRatio {
		spikeScore = clamp(ratio/e.config.VolumeSpikeRatio*60, 0, 100)
	} else {
		reasons = append(reasons, fmt.Sprintf("volume: spike ratio %.2fx below %.2fx", ratio, e.config.VolumeSpikeRatio))
	}

	corr := priceVolumeCorrelation(snap.History)
	corrScore := 0.0
	if corr > e.config.MinPriceVolCorr {
		corrScore = clamp((corr-e.config.MinPriceVolCorr)/(1-e.config.MinPriceVolCorr)*100, 0, 100)
	} else {
		reasons = append(reasons, fmt.Sprintf("volume: price/volume correlation %.2f below %.2f", corr, e.config.MinPriceVolCorr))
	}

	imbScore := 0.0
	if total := snap.BuyVolume1m + snap.SellVolume1m; total > 0 {
		buyFrac := float64(snap.BuyVolume1m) / float64(total)
		imb := buyFrac
		if 1-buyFrac > imb {
			imb = 1 - buyFrac
		}
		if imb > e.config.MinFlowImbalance {
			imbScore = clamp((imb-e.config.MinFlowImbalance)/(1-e.config.MinFlowImbalance)*100, 0, 100)
		} else {
			reasons = append(reasons, fmt.Sprintf("volume: flow imbalance %.2f below %.2f", imb, e.config.MinFlowImbalance))
		}
	} else {
		reasons = append(reasons, "volume: no aggressor flow data")
	}

	return (spikeScore + corrScore + imbScore) / 3, true, reasons
}

// microLayer scores spread tightness, depth, quote-update rate, and the
// short-vs-medium EMA cross of the underlying.
func (e *Engine) microLayer(snap *market.Snapshot) (float64, bool, []string) {
	mid := snap.Mid()
	if mid <= 0 {
		return 0, false, []string{"micro: no usable quote"}
	}
	if len(snap.History) < e.config.EMASlowSpan {
		return 0, false, []string{"micro: insufficient history for EMA cross"}
	}

	var reasons []string

	spreadPct := snap.SpreadPct()
	spreadScore := 0.0
	if spreadPct > 0 && spreadPct < e.config.MaxSpreadPct {
		spreadScore = (1 - spreadPct/e.config.MaxSpreadPct) * 100
	} else {
		reasons = append(reasons, fmt.Sprintf("micro: spread %.3f%% of mid too wide", spreadPct*100))
	}

	depthScore := 0.0
	if snap.AvgQuoteDepth > 0 {
		depthRatio := float64(snap.BidSize+snap.AskSize) / snap.AvgQuoteDepth
		if depthRatio > e.config.MinDepthRatio {
			depthScore = clamp(depthRatio/e.config.MinDepthRatio*80, 0, 100)
		} else {
			reasons = append(reasons, fmt.Sprintf("micro: depth ratio %.2f below %.2f", depthRatio, e.config.MinDepthRatio))
		}
	} else {
		reasons = append(reasons, "micro: no trailing depth average")
	}

	rateScore := 100.0
	if snap.QuoteUpdates1m > e.config.MaxQuoteUpdates1m {
		rateScore = 0
		reasons = append(reasons, fmt.Sprintf("micro: quote churn %d/min above ceiling %d", snap.QuoteUpdates1m, e.config.MaxQuoteUpdates1m))
	}

	prices := make([]float64, len(snap.History))
	for i, p := range snap.History {
		prices[i] = p.Price
	}
	fast := ema(prices, e.config.EMAFastSpan)
	slow := ema(prices, e.config.EMASlowSpan)
	crossPct := abs(fast-slow) / mid
	crossScore := 0.0
	if crossPct > e.config.MinEMACrossPct {
		crossScore = clamp(crossPct/e.config.MinEMACrossPct*50, 0, 100)
	} else {
		reasons = append(reasons, fmt.Sprintf("micro: EMA cross %.3f%% below %.3f%%", crossPct*100, e.config.MinEMACrossPct*100))
	}

	return (spreadScore + depthScore + rateScore + crossScore) / 4, true, reasons
}

// liquidityLayer scores the tradability of the near-money slice of the chain.
func (e *Engine) liquidityLayer(snap *market.Snapshot, chain *market.Chain) (float64, bool, []string) {
	if chain == nil || len(chain.Quotes) == 0 {
		return 0, false, []string{"liquidity: empty option chain"}
	}

	band := snap.LastPrice * e.config.StrikeBandPct
	var near []*market.OptionQuote
	for i := range chain.Quotes {
		q := &chain.Quotes[i]
		if abs(q.Strike-snap.LastPrice) <= band {
			near = append(near, q)
		}
	}
	if len(near) == 0 {
		return 0, false, []string{"liquidity: no near-money quotes"}
	}

	var reasons []string
	var spreadSum float64
	var vol1m, maxOI int64
	var freqSum int
	ivOK := 0
	for _, q := range near {
		spreadSum += q.SpreadPct()
		vol1m += q.Volume1m
		if q.OpenInterest > maxOI {
			maxOI = q.OpenInterest
		}
		freqSum += q.QuoteFreq1m
		if q.ImpliedVol >= e.config.MinIV && q.ImpliedVol <= e.config.MaxIV &&
			abs(q.IVChange30s) <= e.config.MaxIVChange30s {
			ivOK++
		}
	}
	n := float64(len(near))

	spreadScore := 0.0
	if avgSpread := spreadSum / n; avgSpread > 0 && avgSpread < e.config.MaxOptionSpreadPct {
		spreadScore = (1 - avgSpread/e.config.MaxOptionSpreadPct) * 100
	} else {
		reasons = append(reasons, "liquidity: option spreads too wide")
	}

	volScore := 0.0
	if vol1m > e.config.MinOptionVolume1m {
		volScore = clamp(float64(vol1m)/float64(e.config.MinOptionVolume1m)*50, 0, 100)
	} else {
		reasons = append(reasons, fmt.Sprintf("liquidity: 1m option volume %d below %d", vol1m, e.config.MinOptionVolume1m))
	}

	oiScore := 0.0
	if maxOI > e.config.MinOpenInterest {
		oiScore = clamp(float64(maxOI)/float64(e.config.MinOpenInterest)*50, 0, 100)
	} else {
		reasons = append(reasons, fmt.Sprintf("liquidity: open interest %d below %d", maxOI, e.config.MinOpenInterest))
	}

	freqScore := 0.0
	if avgFreq := float64(freqSum) / n; avgFreq > float64(e.config.MinQuoteFreq1m) {
		freqScore = clamp(avgFreq/float64(e.config.MinQuoteFreq1m)*50, 0, 100)
	} else {
		reasons = append(reasons, "liquidity: quote frequency too low")
	}

	ivScore := float64(ivOK) / n * 100
	if ivOK == 0 {
		reasons = append(reasons, "liquidity: implied vol outside stable band")
	}

	return (spreadScore + volScore + oiScore + freqScore + ivScore) / 5, true, reasons
}
