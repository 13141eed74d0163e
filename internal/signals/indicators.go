package signals

import (
	"math"

	"github.com/tradeforge/optionrun/internal/market"
)

// ema computes an exponential moving average over the full series with the
// standard smoothing factor 2/(span+1).
func ema(values []float64, span int) float64 {
	if len(values) == 0 {
		return 0
	}
	alpha := 2.0 / (float64(span) + 1)
	out := values[0]
	for _, v := range values[1:] {
		out = alpha*v + (1-alpha)*out
	}
	return out
}

// priceVolumeCorrelation computes the Pearson correlation between absolute
// price changes and volume across the history window. Zero when degenerate.
func priceVolumeCorrelation(history []market.PricePoint) float64 {
	if len(history) < 3 {
		return 0
	}

	moves := make([]float64, 0, len(history)-1)
	vols := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		moves = append(moves, abs(history[i].Price-history[i-1].Price))
		vols = append(vols, float64(history[i].Volume))
	}

	mMean := mean(moves)
	vMean := mean(vols)

	var cov, mVar, vVar float64
	for i := range moves {
		dm := moves[i] - mMean
		dv := vols[i] - vMean
		cov += dm * dv
		mVar += dm * dm
		vVar += dv * dv
	}
	if mVar == 0 || vVar == 0 {
		return 0
	}
	return cov / (math.Sqrt(mVar) * math.Sqrt(vVar))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
