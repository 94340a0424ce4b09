package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/market"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
)

// HedgeInstrument is the instrument traded by delta-neutral hedges.
type HedgeInstrument struct {
	Symbol    string
	UnitDelta float64
}

// Config holds hedge pricing parameters.
type Config struct {
	ProtectionLevel float64       // put strike as a fraction of spot
	CapLevel        float64       // call strike above spot, as a fraction
	FeeRate         float64       // trading fee on delta-neutral notional
	HedgeTenor      time.Duration // expiry of option legs
	RiskFreeRate    float64
	// MaxCostRatio rejects option hedges costing more than this fraction
	// of the protected notional. Zero disables the check.
	MaxCostRatio float64

	// Per-underlying overrides.
	HedgeInstruments map[string]HedgeInstrument
	ImpliedVols      map[string]float64
}

// DefaultConfig returns the default hedge parameters.
func DefaultConfig() Config {
	return Config{
		ProtectionLevel: 0.95,
		CapLevel:        0.10,
		FeeRate:         0.001,
		HedgeTenor:      30 * 24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ProtectionLevel <= 0 || c.ProtectionLevel > 1 {
		return errors.NewValidationError("protection_level", c.ProtectionLevel, "must be in (0, 1]")
	}
	if c.CapLevel <= 0 {
		return errors.NewValidationError("cap_level", c.CapLevel, "must be positive")
	}
	if c.FeeRate < 0 {
		return errors.NewValidationError("fee_rate", c.FeeRate, "cannot be negative")
	}
	if c.HedgeTenor <= 0 {
		return errors.NewValidationError("hedge_tenor", c.HedgeTenor, "must be positive")
	}
	if c.MaxCostRatio < 0 {
		return errors.NewValidationError("max_cost_ratio", c.MaxCostRatio, "cannot be negative")
	}
	for under, h := range c.HedgeInstruments {
		if h.Symbol == "" || h.UnitDelta == 0 || math.IsNaN(h.UnitDelta) {
			return errors.NewValidationError("hedge_instruments."+under, h, "needs a symbol and a non-zero unit delta")
		}
	}
	for under, v := range c.ImpliedVols {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewValidationError("implied_vols."+under, v, "must be a positive finite number")
		}
	}
	return nil
}

// HedgeFor returns the delta-neutral hedge instrument of an underlying,
// the underlying itself unless configured otherwise.
func (c Config) HedgeFor(underlying string) HedgeInstrument {
	if h, ok := c.HedgeInstruments[underlying]; ok {
		return h
	}
	return HedgeInstrument{Symbol: underlying, UnitDelta: 1}
}

// MarketState is the market data a hedge is priced against. Zero values
// mean unknown.
type MarketState struct {
	Underlying   string
	Price        float64
	ImpliedVol   float64
	Expiry       time.Time
	TimeToExpiry float64
	Hedge        HedgeInstrument
	HedgePrice   float64
}

// Engine prices hedges. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.ErrConfigInvalid, err)
	}
	return &Engine{cfg: cfg, now: time.Now}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Target returns the underlying a breach should be hedged on: the
// underlying of its instrument, or for portfolio breaches the underlying
// carrying the most delta.
func Target(b models.Breach, summary models.ExposureSummary) (string, error) {
	if b.Instrument != "" {
		if under, ok := summary.UnderlyingOf(b.Instrument); ok {
			return under, nil
		}
		return "", errors.NewStrategyError("", "no exposure to "+b.Instrument, errors.ErrInsufficientData)
	}
	under, ok := summary.LargestDeltaUnderlying()
	if !ok {
		return "", errors.NewStrategyError("", "portfolio has no priced positions", errors.ErrInsufficientData)
	}
	return under, nil
}

// MarketFor assembles the market state for hedging underlying. The hedge
// instrument is priced from oracle when it differs from the underlying;
// oracle may be nil.
func (e *Engine) MarketFor(ctx context.Context, summary models.ExposureSummary, underlying string, oracle market.PriceOracle) MarketState {
	now := e.now()
	expiry := now.Add(e.cfg.HedgeTenor)

	m := MarketState{
		Underlying:   underlying,
		Price:        summary.UnderlyingPrices[underlying],
		ImpliedVol:   summary.ImpliedVols[underlying],
		Expiry:       expiry,
		TimeToExpiry: pricing.TimeToExpiry(expiry, now),
		Hedge:        e.cfg.HedgeFor(underlying),
	}
	if m.ImpliedVol <= 0 {
		m.ImpliedVol = e.cfg.ImpliedVols[underlying]
	}

	if m.Hedge.Symbol == underlying {
		m.HedgePrice = m.Price
	} else if oracle != nil {
		if p, err := oracle.GetPrice(ctx, m.Hedge.Symbol); err == nil {
			m.HedgePrice = p
		}
	}
	return m
}

// Recommend prices the named strategy for a breach. Auto delegates to
// Select.
func (e *Engine) Recommend(b models.Breach, summary models.ExposureSummary, m MarketState, name string) (*models.HedgeRecommendation, error) {
	if Normalize(name) == Auto {
		return e.Select(b, summary, m)
	}
	s, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return s.build(e.request(b, summary, m))
}

// Select prices every strategy and returns the cheapest. It fails only
// when no strategy applies, with the failure of each variant joined.
func (e *Engine) Select(b models.Breach, summary models.ExposureSummary, m MarketState) (*models.HedgeRecommendation, error) {
	req := e.request(b, summary, m)

	var candidates []*models.HedgeRecommendation
	var errs []error
	for _, s := range registry {
		rec, err := s.build(req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		candidates = append(candidates, rec)
	}
	if len(candidates) == 0 {
		return nil, errors.Join(errs...)
	}

	Rank(candidates)
	best := candidates[0]
	if len(candidates) > 1 {
		best.Reasoning = fmt.Sprintf("%s (cheapest of %d candidates)", best.Reasoning, len(candidates))
	}
	return best, nil
}

// Rank orders recommendations by estimated cost ascending, then urgency
// descending, then strategy name.
func Rank(recs []*models.HedgeRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.EstimatedCost != b.EstimatedCost {
			return a.EstimatedCost < b.EstimatedCost
		}
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		return a.Strategy < b.Strategy
	})
}

func (e *Engine) request(b models.Breach, summary models.ExposureSummary, m MarketState) request {
	req := request{
		breach: b,
		market: m,
		cfg:    e.cfg,
		now:    e.now(),
	}

	if b.Instrument != "" {
		scoped, _ := summary.Scoped(b.Instrument)
		req.delta = scoped.Delta
		req.protect = scoped.Delta
	} else {
		req.delta = summary.Delta
		req.protect = summary.ByUnderlying[m.Underlying].Delta
		req.spans = deltaUnderlyings(summary)
	}
	return req
}

// deltaUnderlyings lists, sorted, the underlyings carrying delta when
// there is more than one.
func deltaUnderlyings(summary models.ExposureSummary) []string {
	var out []string
	for sym, e := range summary.ByUnderlying {
		if e.Delta != 0 {
			out = append(out, sym)
		}
	}
	if len(out) < 2 {
		return nil
	}
	sort.Strings(out)
	return out
}
