// Package pricing implements Black-Scholes valuation of European options.
//
// All functions are pure and safe for concurrent use.
package pricing

import (
	"math"
	"time"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

// DaysPerYear is the calendar year length used for expiry and theta.
const DaysPerYear = 365.25

// Implied volatility search bounds.
const (
	MinVolatility = 0.0001
	MaxVolatility = 10.0
)

// PriceAndGreeks returns the Black-Scholes price and Greeks of one option.
//
// t is the time to expiry in years, rate and vol are annualised decimals.
// Theta is per calendar day, vega and rho per one percentage point. At
// t == 0 the intrinsic value is returned with zero gamma, theta, vega
// and rho.
func PriceAndGreeks(spot, strike, t, rate, vol float64, optionType models.OptionType) (models.PricingResult, error) {
	if err := validate(spot, strike, t, rate, vol, optionType); err != nil {
		return models.PricingResult{}, err
	}
	if t == 0 {
		return atExpiry(spot, strike, optionType), nil
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	discount := math.Exp(-rate * t)
	density := normPDF(d1)

	res := models.PricingResult{}
	res.Gamma = density / (spot * vol * sqrtT)
	res.Vega = spot * density * sqrtT / 100
	decay := -(spot * density * vol) / (2 * sqrtT)

	switch optionType {
	case models.OptionCall:
		res.Price = spot*normCDF(d1) - strike*discount*normCDF(d2)
		res.Delta = normCDF(d1)
		res.Theta = (decay - rate*strike*discount*normCDF(d2)) / DaysPerYear
		res.Rho = strike * t * discount * normCDF(d2) / 100
	case models.OptionPut:
		res.Price = strike*discount*normCDF(-d2) - spot*normCDF(-d1)
		res.Delta = normCDF(d1) - 1
		res.Theta = (decay + rate*strike*discount*normCDF(-d2)) / DaysPerYear
		res.Rho = -strike * t * discount * normCDF(-d2) / 100
	}
	return res, nil
}

// Price returns only the Black-Scholes price.
func Price(spot, strike, t, rate, vol float64, optionType models.OptionType) (float64, error) {
	res, err := PriceAndGreeks(spot, strike, t, rate, vol, optionType)
	if err != nil {
		return 0, err
	}
	return res.Price, nil
}

// Intrinsic returns the exercise value of an option.
func Intrinsic(spot, strike float64, optionType models.OptionType) float64 {
	if optionType == models.OptionPut {
		return math.Max(strike-spot, 0)
	}
	return math.Max(spot-strike, 0)
}

// TimeToExpiry returns the years between now and expiry, never negative.
func TimeToExpiry(expiry, now time.Time) float64 {
	years := expiry.Sub(now).Seconds() / (DaysPerYear * 24 * 3600)
	return math.Max(years, 0)
}

// ImpliedVolatility solves for the volatility that reproduces a market
// price, by bisection over [MinVolatility, MaxVolatility].
func ImpliedVolatility(marketPrice, spot, strike, t, rate float64, optionType models.OptionType) (float64, error) {
	if !finite(marketPrice) || marketPrice <= 0 {
		return 0, errors.NewValidationError("market_price", marketPrice, "must be a positive finite number")
	}
	if t <= 0 {
		return 0, errors.NewValidationError("time_to_expiry", t, "implied volatility needs time to expiry")
	}

	lo, hi := MinVolatility, MaxVolatility
	loPrice, err := Price(spot, strike, t, rate, lo, optionType)
	if err != nil {
		return 0, err
	}
	hiPrice, err := Price(spot, strike, t, rate, hi, optionType)
	if err != nil {
		return 0, err
	}
	if marketPrice < loPrice || marketPrice > hiPrice {
		return 0, errors.NewValidationError("market_price", marketPrice, "outside the range reachable by the model")
	}

	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		p, _ := Price(spot, strike, t, rate, mid, optionType)
		if math.Abs(p-marketPrice) < 1e-10 || hi-lo < 1e-12 {
			return mid, nil
		}
		if p < marketPrice {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}

func atExpiry(spot, strike float64, optionType models.OptionType) models.PricingResult {
	res := models.PricingResult{Price: Intrinsic(spot, strike, optionType)}
	switch optionType {
	case models.OptionCall:
		if spot > strike {
			res.Delta = 1
		}
	case models.OptionPut:
		if spot < strike {
			res.Delta = -1
		}
	}
	return res
}

func validate(spot, strike, t, rate, vol float64, optionType models.OptionType) error {
	switch {
	case !finite(spot) || spot <= 0:
		return errors.NewValidationError("spot", spot, "must be a positive finite number")
	case !finite(strike) || strike <= 0:
		return errors.NewValidationError("strike", strike, "must be a positive finite number")
	case !finite(vol) || vol <= 0:
		return errors.NewValidationError("volatility", vol, "must be a positive finite number")
	case !finite(rate):
		return errors.NewValidationError("rate", rate, "must be finite")
	case !finite(t) || t < 0:
		return errors.NewValidationError("time_to_expiry", t, "must be a non-negative finite number")
	case optionType != models.OptionCall && optionType != models.OptionPut:
		return errors.NewValidationError("option_type", optionType, "must be call or put")
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
