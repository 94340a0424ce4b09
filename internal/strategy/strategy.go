// Package strategy prices hedges for risk breaches.
//
// Three variants are supported: delta-neutral (trade the hedge instrument
// against the exposure), protective put (buy puts below spot) and collar
// (protective put financed by a covered call above spot).
package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
)

// Strategy names.
const (
	DeltaNeutral  = "delta_neutral"
	ProtectivePut = "protective_put"
	Collar        = "collar"
	// Auto selects the cheapest applicable strategy.
	Auto = "auto"
)

// Strategy is one hedge variant. The set is closed: only the variants in
// this package implement it.
type Strategy interface {
	Name() string
	build(req request) (*models.HedgeRecommendation, error)
}

var registry = []Strategy{deltaNeutral{}, protectivePut{}, collar{}}

// Names returns the concrete strategy names.
func Names() []string {
	names := make([]string, len(registry))
	for i, s := range registry {
		names[i] = s.Name()
	}
	return names
}

// Normalize canonicalises a strategy name ("Delta-Neutral" -> "delta_neutral").
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", " ", "_").Replace(name)
}

// Lookup returns the strategy registered under name.
func Lookup(name string) (Strategy, error) {
	n := Normalize(name)
	for _, s := range registry {
		if s.Name() == n {
			return s, nil
		}
	}
	return nil, errors.NewStrategyError(name, "unknown strategy", errors.ErrUnsupportedStrategy)
}

// ValidName reports whether name is a concrete strategy or Auto.
func ValidName(name string) bool {
	if Normalize(name) == Auto {
		return true
	}
	_, err := Lookup(name)
	return err == nil
}

// request carries everything a variant needs to price a hedge.
type request struct {
	breach models.Breach
	market MarketState
	cfg    Config
	now    time.Time

	// delta is the exposure to neutralise; protect is the long underlying
	// quantity that option hedges cover.
	delta   float64
	protect float64

	// spans names the underlyings a portfolio-wide delta adds up.
	spans []string
}

func (r request) header(name string) *models.HedgeRecommendation {
	return &models.HedgeRecommendation{
		AccountID:  r.breach.AccountID,
		Strategy:   name,
		Underlying: r.market.Underlying,
		Urgency:    models.UrgencyForSeverity(r.breach.Severity),
		CreatedAt:  r.now,
	}
}

func (r request) optionInputs(name string) error {
	m := r.market
	switch {
	case m.Price <= 0:
		return errors.NewStrategyError(name, "no price for "+m.Underlying, errors.ErrInsufficientData)
	case m.ImpliedVol <= 0:
		return errors.NewStrategyError(name, "no implied volatility for "+m.Underlying, errors.ErrInsufficientData)
	case m.TimeToExpiry <= 0:
		return errors.NewStrategyError(name, "no time to expiry for option legs", errors.ErrInsufficientData)
	}
	if r.protect <= 0 {
		return errors.NewStrategyError(name, fmt.Sprintf("requires long %s exposure, have delta %.4f", m.Underlying, r.protect), errors.ErrNotApplicable)
	}
	return nil
}

func (r request) checkCost(name string, cost float64) error {
	if r.cfg.MaxCostRatio <= 0 {
		return nil
	}
	notional := math.Abs(r.market.Price * r.protect)
	if notional > 0 && cost > notional*r.cfg.MaxCostRatio {
		return errors.NewStrategyError(name,
			fmt.Sprintf("cost %.2f exceeds %.2f%% of %.2f protected", cost, r.cfg.MaxCostRatio*100, notional),
			errors.ErrNotApplicable)
	}
	return nil
}

func (r request) optionLeg(kind models.LegKind, side models.OrderSide, strike, premium float64) models.HedgeLeg {
	suffix := "P"
	if kind == models.LegCall {
		suffix = "C"
	}
	return models.HedgeLeg{
		Symbol: fmt.Sprintf("%s-%s-%.0f-%s", r.market.Underlying, r.market.Expiry.Format("02Jan06"), strike, suffix),
		Kind:   kind,
		Side:   side,
		Size:   r.protect,
		Price:  premium,
		Strike: strike,
		Expiry: r.market.Expiry,
	}
}

type deltaNeutral struct{}

func (deltaNeutral) Name() string { return DeltaNeutral }

func (deltaNeutral) build(r request) (*models.HedgeRecommendation, error) {
	if r.delta == 0 {
		return nil, errors.NewStrategyError(DeltaNeutral, "no delta to neutralise", errors.ErrNotApplicable)
	}
	hedge := r.market.Hedge
	if hedge.UnitDelta == 0 {
		return nil, errors.NewStrategyError(DeltaNeutral, "hedge instrument "+hedge.Symbol+" has zero delta", errors.ErrInsufficientData)
	}
	if r.market.HedgePrice <= 0 {
		return nil, errors.NewStrategyError(DeltaNeutral, "no price for "+hedge.Symbol, errors.ErrInsufficientData)
	}

	size := -r.delta / hedge.UnitDelta
	cost := r.market.HedgePrice * math.Abs(size) * r.cfg.FeeRate

	rec := r.header(DeltaNeutral)
	rec.Size = size
	rec.EstimatedCost = cost
	rec.Legs = []models.HedgeLeg{{
		Symbol: hedge.Symbol,
		Kind:   models.LegSpot,
		Side:   models.SideFor(size),
		Size:   math.Abs(size),
		Price:  r.market.HedgePrice,
	}}
	rec.Reasoning = fmt.Sprintf("%s %.4f %s at %.2f to neutralise %.4f delta",
		models.SideFor(size), math.Abs(size), hedge.Symbol, r.market.HedgePrice, r.delta)
	if len(r.spans) > 0 {
		rec.Reasoning += fmt.Sprintf(" (cross-asset: delta summed over %s, hedged in %s alone)",
			strings.Join(r.spans, "+"), hedge.Symbol)
	}
	return rec, nil
}

type protectivePut struct{}

func (protectivePut) Name() string { return ProtectivePut }

func (protectivePut) build(r request) (*models.HedgeRecommendation, error) {
	if err := r.optionInputs(ProtectivePut); err != nil {
		return nil, err
	}
	m := r.market
	strike := m.Price * r.cfg.ProtectionLevel
	premium, err := pricing.Price(m.Price, strike, m.TimeToExpiry, r.cfg.RiskFreeRate, m.ImpliedVol, models.OptionPut)
	if err != nil {
		return nil, errors.NewStrategyError(ProtectivePut, "pricing put", err)
	}

	cost := premium * r.protect
	if err := r.checkCost(ProtectivePut, cost); err != nil {
		return nil, err
	}

	rec := r.header(ProtectivePut)
	rec.Size = r.protect
	rec.Strike = strike
	rec.Premium = premium
	rec.NetPremium = premium
	rec.EstimatedCost = cost
	rec.Legs = []models.HedgeLeg{r.optionLeg(models.LegPut, models.OrderSideBuy, strike, premium)}

	maxLoss := (m.Price-strike)*r.protect + cost
	rec.Reasoning = fmt.Sprintf("Buy %.4f %s puts at %.2f (%.0f%% of spot) for %.2f each, max loss %.2f",
		r.protect, m.Underlying, strike, r.cfg.ProtectionLevel*100, premium, maxLoss)
	return rec, nil
}

type collar struct{}

func (collar) Name() string { return Collar }

func (collar) build(r request) (*models.HedgeRecommendation, error) {
	if err := r.optionInputs(Collar); err != nil {
		return nil, err
	}
	m := r.market
	putStrike := m.Price * r.cfg.ProtectionLevel
	callStrike := m.Price * (1 + r.cfg.CapLevel)

	putPremium, err := pricing.Price(m.Price, putStrike, m.TimeToExpiry, r.cfg.RiskFreeRate, m.ImpliedVol, models.OptionPut)
	if err != nil {
		return nil, errors.NewStrategyError(Collar, "pricing put", err)
	}
	callPremium, err := pricing.Price(m.Price, callStrike, m.TimeToExpiry, r.cfg.RiskFreeRate, m.ImpliedVol, models.OptionCall)
	if err != nil {
		return nil, errors.NewStrategyError(Collar, "pricing call", err)
	}

	net := putPremium - callPremium
	cost := net * r.protect
	if err := r.checkCost(Collar, cost); err != nil {
		return nil, err
	}

	rec := r.header(Collar)
	rec.Size = r.protect
	rec.Strike = putStrike
	rec.CallStrike = callStrike
	rec.Premium = putPremium
	rec.NetPremium = net
	rec.EstimatedCost = cost
	rec.Legs = []models.HedgeLeg{
		r.optionLeg(models.LegPut, models.OrderSideBuy, putStrike, putPremium),
		r.optionLeg(models.LegCall, models.OrderSideSell, callStrike, callPremium),
	}

	kind := "debit"
	if net < 0 {
		kind = "credit"
	}
	rec.Reasoning = fmt.Sprintf("Buy %.2f puts, sell %.2f calls on %.4f %s for a net %s of %.2f per unit",
		putStrike, callStrike, r.protect, m.Underlying, kind, math.Abs(net))
	return rec, nil
}
