package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"spot-hedger/internal/models"
)

func newParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

// Property: For any valid inputs with time to expiry, call delta lies strictly
// within (0, 1) and put delta strictly within (-1, 0).
func TestProperty_DeltaBounds(t *testing.T) {
	properties := gopter.NewProperties(newParameters())

	properties.Property("delta is bounded by option type", prop.ForAll(
		func(spot, moneyness, tt, rate, vol float64) bool {
			strike := spot * moneyness
			call, err := PriceAndGreeks(spot, strike, tt, rate, vol, models.OptionCall)
			if err != nil {
				return false
			}
			put, err := PriceAndGreeks(spot, strike, tt, rate, vol, models.OptionPut)
			if err != nil {
				return false
			}
			return call.Delta > 0 && call.Delta < 1 && put.Delta > -1 && put.Delta < 0
		},
		gen.Float64Range(10, 100000),
		gen.Float64Range(0.8, 1.25),
		gen.Float64Range(0.1, 2),
		gen.Float64Range(0, 0.1),
		gen.Float64Range(0.1, 1.0),
	))

	properties.TestingRun(t)
}

// Property: Call minus put equals spot minus discounted strike.
func TestProperty_PutCallParity(t *testing.T) {
	properties := gopter.NewProperties(newParameters())

	properties.Property("put-call parity holds", prop.ForAll(
		func(spot, moneyness, tt, rate, vol float64) bool {
			strike := spot * moneyness
			call, err := PriceAndGreeks(spot, strike, tt, rate, vol, models.OptionCall)
			if err != nil {
				return false
			}
			put, err := PriceAndGreeks(spot, strike, tt, rate, vol, models.OptionPut)
			if err != nil {
				return false
			}
			parity := spot - strike*math.Exp(-rate*tt)
			return math.Abs((call.Price-put.Price)-parity) <= 1e-9*spot
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.5, 2),
		gen.Float64Range(0.01, 3),
		gen.Float64Range(-0.02, 0.15),
		gen.Float64Range(0.05, 2),
	))

	properties.TestingRun(t)
}

// Property: As time to expiry approaches zero the call price converges to
// its intrinsic value.
func TestProperty_ConvergesToIntrinsic(t *testing.T) {
	properties := gopter.NewProperties(newParameters())

	properties.Property("near-expiry price approaches intrinsic", prop.ForAll(
		func(spot, moneyness, rate, vol float64) bool {
			strike := spot * moneyness
			res, err := PriceAndGreeks(spot, strike, 1e-10, rate, vol, models.OptionCall)
			if err != nil {
				return false
			}
			return math.Abs(res.Price-Intrinsic(spot, strike, models.OptionCall)) <= 1e-4*spot
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.5, 2),
		gen.Float64Range(0, 0.1),
		gen.Float64Range(0.05, 2),
	))

	properties.TestingRun(t)
}

// Property: Prices are never below intrinsic value for calls and gamma and
// vega are never negative.
func TestProperty_NoArbitrageBounds(t *testing.T) {
	properties := gopter.NewProperties(newParameters())

	properties.Property("call price dominates intrinsic", prop.ForAll(
		func(spot, moneyness, tt, rate, vol float64) bool {
			strike := spot * moneyness
			res, err := PriceAndGreeks(spot, strike, tt, rate, vol, models.OptionCall)
			if err != nil {
				return false
			}
			lower := math.Max(spot-strike*math.Exp(-rate*tt), 0)
			return res.Price >= lower-1e-9*spot && res.Price <= spot && res.Gamma >= 0 && res.Vega >= 0
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.5, 2),
		gen.Float64Range(0.01, 3),
		gen.Float64Range(0, 0.15),
		gen.Float64Range(0.05, 2),
	))

	properties.TestingRun(t)
}
