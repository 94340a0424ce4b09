package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

func TestPriceAndGreeks_ReferenceValues(t *testing.T) {
	call, err := PriceAndGreeks(100, 100, 1, 0.05, 0.2, models.OptionCall)
	require.NoError(t, err)
	assert.InDelta(t, 10.450583572185565, call.Price, 1e-6)
	assert.InDelta(t, 0.6368306511756191, call.Delta, 1e-6)

	put, err := PriceAndGreeks(100, 100, 1, 0.05, 0.2, models.OptionPut)
	require.NoError(t, err)
	assert.InDelta(t, 5.573526022256971, put.Price, 1e-6)
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-12)

	// Gamma and vega are identical for calls and puts.
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
	assert.InDelta(t, 0.018762, call.Gamma, 1e-5)
	assert.InDelta(t, 0.375240, call.Vega, 1e-5)
}

func TestPriceAndGreeks_CryptoAtTheMoney(t *testing.T) {
	res, err := PriceAndGreeks(30000, 30000, 30.0/365.0, 0, 0.6, models.OptionCall)
	require.NoError(t, err)
	assert.Greater(t, res.Price, 0.0)
	assert.GreaterOrEqual(t, res.Delta, 0.53)
	assert.LessOrEqual(t, res.Delta, 0.56)
}

func TestPriceAndGreeks_FiniteDifferences(t *testing.T) {
	const (
		spot, strike, tt, rate, vol = 105.0, 100.0, 0.5, 0.03, 0.25
		h                           = 1e-3
	)
	for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
		t.Run(string(typ), func(t *testing.T) {
			base, err := PriceAndGreeks(spot, strike, tt, rate, vol, typ)
			require.NoError(t, err)

			up, _ := PriceAndGreeks(spot+h, strike, tt, rate, vol, typ)
			down, _ := PriceAndGreeks(spot-h, strike, tt, rate, vol, typ)
			assert.InDelta(t, (up.Price-down.Price)/(2*h), base.Delta, 1e-6)
			assert.InDelta(t, (up.Delta-down.Delta)/(2*h), base.Gamma, 1e-6)

			volUp, _ := PriceAndGreeks(spot, strike, tt, rate, vol+h, typ)
			volDown, _ := PriceAndGreeks(spot, strike, tt, rate, vol-h, typ)
			assert.InDelta(t, (volUp.Price-volDown.Price)/(2*h)/100, base.Vega, 1e-6)

			rateUp, _ := PriceAndGreeks(spot, strike, tt, rate+h, vol, typ)
			rateDown, _ := PriceAndGreeks(spot, strike, tt, rate-h, vol, typ)
			assert.InDelta(t, (rateUp.Price-rateDown.Price)/(2*h)/100, base.Rho, 1e-6)

			day := 1 / DaysPerYear
			later, _ := PriceAndGreeks(spot, strike, tt-day, rate, vol, typ)
			assert.InDelta(t, later.Price-base.Price, base.Theta, 1e-3)
		})
	}
}

func TestPriceAndGreeks_AtExpiry(t *testing.T) {
	tests := []struct {
		name       string
		spot       float64
		optionType models.OptionType
		wantPrice  float64
		wantDelta  float64
	}{
		{"call in the money", 120, models.OptionCall, 20, 1},
		{"call out of the money", 80, models.OptionCall, 0, 0},
		{"call at the money", 100, models.OptionCall, 0, 0},
		{"put in the money", 80, models.OptionPut, 20, -1},
		{"put out of the money", 120, models.OptionPut, 0, 0},
		{"put at the money", 100, models.OptionPut, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := PriceAndGreeks(tt.spot, 100, 0, 0.05, 0.3, tt.optionType)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, res.Price)
			assert.Equal(t, tt.wantDelta, res.Delta)
			assert.Zero(t, res.Gamma)
			assert.Zero(t, res.Theta)
			assert.Zero(t, res.Vega)
			assert.Zero(t, res.Rho)
		})
	}
}

func TestPriceAndGreeks_InvalidInput(t *testing.T) {
	tests := []struct {
		name                        string
		spot, strike, tt, rate, vol float64
		optionType                  models.OptionType
	}{
		{"zero spot", 0, 100, 1, 0.05, 0.2, models.OptionCall},
		{"negative strike", 100, -1, 1, 0.05, 0.2, models.OptionCall},
		{"zero volatility", 100, 100, 1, 0.05, 0, models.OptionCall},
		{"negative time", 100, 100, -0.1, 0.05, 0.2, models.OptionPut},
		{"nan rate", 100, 100, 1, math.NaN(), 0.2, models.OptionPut},
		{"infinite volatility", 100, 100, 1, 0.05, math.Inf(1), models.OptionPut},
		{"unknown type", 100, 100, 1, 0.05, 0.2, models.OptionType("straddle")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PriceAndGreeks(tt.spot, tt.strike, tt.tt, tt.rate, tt.vol, tt.optionType)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput))

			var verr *errors.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	for _, vol := range []float64{0.05, 0.2, 0.6, 1.5} {
		for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
			price, err := Price(100, 110, 0.25, 0.02, vol, typ)
			require.NoError(t, err)

			iv, err := ImpliedVolatility(price, 100, 110, 0.25, 0.02, typ)
			require.NoError(t, err)
			assert.InDelta(t, vol, iv, 1e-6, "vol=%v type=%s", vol, typ)
		}
	}
}

func TestImpliedVolatility_Unreachable(t *testing.T) {
	// A call can never be worth more than the underlying.
	_, err := ImpliedVolatility(150, 100, 100, 1, 0.01, models.OptionCall)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = ImpliedVolatility(5, 100, 100, 0, 0.01, models.OptionCall)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestTimeToExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, TimeToExpiry(now.Add(time.Duration(DaysPerYear*24)*time.Hour), now), 1e-9)
	assert.Zero(t, TimeToExpiry(now.Add(-time.Hour), now))
	assert.Zero(t, TimeToExpiry(now, now))
}
