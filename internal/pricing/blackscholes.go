package pricing

import (
	"context"
	"math"

	"github.com/tradeforge/optionrun/internal/market"
)

const (
	// DefaultRiskFreeRate is used when a request leaves RiskFree zero.
	DefaultRiskFreeRate = 0.05

	tradingDaysPerYear = 252.0
	hoursPerTradingDay = 6.5
)

// BlackScholes prices European contracts. For 0DTE work the maturities are
// fractions of a trading day, so time is annualized on trading hours.
type BlackScholes struct {
	RiskFree float64
}

// NewBlackScholes returns a provider with the default risk-free rate.
func NewBlackScholes() *BlackScholes {
	return &BlackScholes{RiskFree: DefaultRiskFreeRate}
}

// Price implements GreeksProvider.
func (bs *BlackScholes) Price(_ context.Context, in Inputs) (*Result, error) {
	if in.Underlying <= 0 || in.Strike <= 0 || in.Volatility <= 0 || in.TimeToExp <= 0 {
		return nil, ErrUnpriceable
	}

	r := in.RiskFree
	if r == 0 {
		r = bs.RiskFree
	}

	t := in.TimeToExp.Hours() / (hoursPerTradingDay * tradingDaysPerYear)
	if t <= 0 {
		return nil, ErrUnpriceable
	}

	s, k, v := in.Underlying, in.Strike, in.Volatility
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+v*v/2)*t) / (v * sqrtT)
	d2 := d1 - v*sqrtT

	nd1 := normCDF(d1)
	nd2 := normCDF(d2)
	pdf1 := normPDF(d1)
	disc := math.Exp(-r * t)

	var price, delta, theta float64
	switch in.Right {
	case market.Call:
		price = s*nd1 - k*disc*nd2
		delta = nd1
		theta = -(s*pdf1*v)/(2*sqrtT) - r*k*disc*nd2
	case market.Put:
		price = k*disc*normCDF(-d2) - s*normCDF(-d1)
		delta = nd1 - 1
		theta = -(s*pdf1*v)/(2*sqrtT) + r*k*disc*normCDF(-d2)
	}

	if math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, ErrUnpriceable
	}

	return &Result{
		Price: price,
		Greeks: market.Greeks{
			Delta: delta,
			Gamma: pdf1 / (s * v * sqrtT),
			// per trading day
			Theta: theta / tradingDaysPerYear,
			// per 1% vol move
			Vega: s * pdf1 * sqrtT / 100,
		},
	}, nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
