package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/optionrun/internal/market"
)

func atmInputs(right market.Right) Inputs {
	return Inputs{
		Underlying: 100,
		Strike:     100,
		Right:      right,
		TimeToExp:  3 * time.Hour, // intraday maturity
		Volatility: 0.20,
	}
}

func TestPrice_ATMCall(t *testing.T) {
	bs := NewBlackScholes()

	res, err := bs.Price(context.Background(), atmInputs(market.Call))
	require.NoError(t, err)

	// An at-the-money call with hours to expiry sits close to half delta.
	assert.InDelta(t, 0.5, res.Greeks.Delta, 0.02)
	assert.Greater(t, res.Price, 0.0)
	assert.Less(t, res.Price, 1.0, "ATM premium with 3h left stays small")
	assert.Greater(t, res.Greeks.Gamma, 0.0)
	assert.Less(t, res.Greeks.Theta, 0.0)
	assert.Greater(t, res.Greeks.Vega, 0.0)
}

func TestPrice_ATMPut(t *testing.T) {
	bs := NewBlackScholes()

	res, err := bs.Price(context.Background(), atmInputs(market.Put))
	require.NoError(t, err)

	assert.InDelta(t, -0.5, res.Greeks.Delta, 0.02)
	assert.Greater(t, res.Price, 0.0)
	assert.Greater(t, res.Greeks.Gamma, 0.0)
}

func TestPrice_PutCallParity(t *testing.T) {
	bs := NewBlackScholes()
	ctx := context.Background()

	call, err := bs.Price(ctx, atmInputs(market.Call))
	require.NoError(t, err)
	put, err := bs.Price(ctx, atmInputs(market.Put))
	require.NoError(t, err)

	// C - P = S - K*e^{-rt}
	tYears := (3 * time.Hour).Hours() / (hoursPerTradingDay * tradingDaysPerYear)
	parity := 100 - 100*math.Exp(-DefaultRiskFreeRate*tYears)
	assert.InDelta(t, parity, call.Price-put.Price, 1e-9)
}

func TestPrice_DeepITMCallApproachesFullDelta(t *testing.T) {
	bs := NewBlackScholes()

	in := atmInputs(market.Call)
	in.Underlying = 110

	res, err := bs.Price(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, res.Greeks.Delta, 0.99)
	assert.Greater(t, res.Price, 9.9, "price dominated by intrinsic value")
}

func TestPrice_UnpriceableInputs(t *testing.T) {
	bs := NewBlackScholes()
	ctx := context.Background()

	cases := map[string]func(*Inputs){
		"zero_volatility":     func(in *Inputs) { in.Volatility = 0 },
		"zero_time":           func(in *Inputs) { in.TimeToExp = 0 },
		"negative_underlying": func(in *Inputs) { in.Underlying = -1 },
		"zero_strike":         func(in *Inputs) { in.Strike = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := atmInputs(market.Call)
			mutate(&in)
			_, err := bs.Price(ctx, in)
			assert.ErrorIs(t, err, ErrUnpriceable)
		})
	}
}

func TestPrice_ZeroRiskFreeFallsBackToDefault(t *testing.T) {
	withDefault := NewBlackScholes()
	explicit := &BlackScholes{RiskFree: DefaultRiskFreeRate}

	in := atmInputs(market.Call)
	a, err := withDefault.Price(context.Background(), in)
	require.NoError(t, err)

	in.RiskFree = DefaultRiskFreeRate
	b, err := explicit.Price(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, a.Price, b.Price)
}
