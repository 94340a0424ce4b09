package models

// OptionGreeks represents option Greeks. Theta is per calendar day, vega
// and rho are per one percentage point.
type OptionGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// Scale returns the Greeks multiplied by a position size.
func (g OptionGreeks) Scale(size float64) OptionGreeks {
	return OptionGreeks{
		Delta: g.Delta * size,
		Gamma: g.Gamma * size,
		Theta: g.Theta * size,
		Vega:  g.Vega * size,
		Rho:   g.Rho * size,
	}
}

// Add returns the sum of two sets of Greeks.
func (g OptionGreeks) Add(o OptionGreeks) OptionGreeks {
	return OptionGreeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Theta: g.Theta + o.Theta,
		Vega:  g.Vega + o.Vega,
		Rho:   g.Rho + o.Rho,
	}
}

// PricingResult is the model value of one option contract.
type PricingResult struct {
	Price float64
	OptionGreeks
}
