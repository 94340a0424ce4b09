package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/market"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	e.now = func() time.Time { return now }
	return e
}

// longBTC builds a summary holding delta units of BTC at price with the
// given implied volatility on its option lots.
func longBTC(delta, price, iv float64) models.ExposureSummary {
	s := models.NewExposureSummary("alice", now)
	e := models.Exposure{Value: delta * price, OptionGreeks: models.OptionGreeks{Delta: delta}, Positions: 1}
	s.Exposure = e
	s.ByInstrument["BTC"] = e
	s.ByUnderlying["BTC"] = e
	s.Underlyings["BTC"] = "BTC"
	s.UnderlyingPrices["BTC"] = price
	if iv > 0 {
		s.ImpliedVols["BTC"] = iv
	}
	return s
}

func breachFor(s models.ExposureSummary, limit float64) models.Breach {
	return models.Breach{
		AccountID: s.AccountID,
		Metric:    models.MetricDelta,
		Observed:  s.Delta,
		Limit:     limit,
		Severity:  abs(s.Delta) / limit,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestDeltaNeutral_SizeOpposesDelta(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(50, 100, 0)
	b := breachFor(s, 10)

	m := e.MarketFor(context.Background(), s, "BTC", nil)
	rec, err := e.Recommend(b, s, m, "delta-neutral")
	require.NoError(t, err)

	assert.Equal(t, DeltaNeutral, rec.Strategy)
	assert.InDelta(t, -50, rec.Size, 1e-12)
	assert.InDelta(t, 100*50*0.001, rec.EstimatedCost, 1e-9)
	require.Len(t, rec.Legs, 1)
	assert.Equal(t, models.OrderSideSell, rec.Legs[0].Side)
	assert.Equal(t, "BTC", rec.Legs[0].Symbol)
	assert.Equal(t, models.UrgencyCritical, rec.Urgency)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestDeltaNeutral_ConfiguredHedgeInstrument(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.HedgeInstruments = map[string]HedgeInstrument{"BTC": {Symbol: "BTC-PERP", UnitDelta: 0.5}}
	})
	s := longBTC(-2, 60000, 0)
	oracle := market.NewStaticOracle(map[string]float64{"BTC-PERP": 60100})

	m := e.MarketFor(context.Background(), s, "BTC", oracle)
	assert.Equal(t, 60100.0, m.HedgePrice)

	rec, err := e.Recommend(breachFor(s, 1), s, m, DeltaNeutral)
	require.NoError(t, err)
	assert.InDelta(t, 4, rec.Size, 1e-12)
	assert.Equal(t, models.OrderSideBuy, rec.Legs[0].Side)
	assert.Equal(t, "BTC-PERP", rec.Legs[0].Symbol)

	// Without a quote for the hedge instrument nothing can be priced.
	m = e.MarketFor(context.Background(), s, "BTC", market.NewStaticOracle(nil))
	_, err = e.Recommend(breachFor(s, 1), s, m, DeltaNeutral)
	assert.True(t, errors.Is(err, errors.ErrInsufficientData))
}

func TestDeltaNeutral_CrossAssetPortfolio(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(50, 100, 0)
	eth := models.Exposure{OptionGreeks: models.OptionGreeks{Delta: 20}, Positions: 1}
	s.ByInstrument["ETH"] = eth
	s.ByUnderlying["ETH"] = eth
	s.Underlyings["ETH"] = "ETH"
	s.Delta = 70

	m := e.MarketFor(context.Background(), s, "BTC", nil)
	rec, err := e.Recommend(breachFor(s, 10), s, m, DeltaNeutral)
	require.NoError(t, err)
	assert.InDelta(t, -70, rec.Size, 1e-12)
	assert.Equal(t, "BTC", rec.Legs[0].Symbol)
	assert.Contains(t, rec.Reasoning, "cross-asset")
	assert.Contains(t, rec.Reasoning, "BTC+ETH")

	// Scoped to one instrument nothing is aggregated.
	b := breachFor(s, 10)
	b.Instrument = "BTC"
	rec, err = e.Recommend(b, s, m, DeltaNeutral)
	require.NoError(t, err)
	assert.InDelta(t, -50, rec.Size, 1e-12)
	assert.NotContains(t, rec.Reasoning, "cross-asset")
}

func TestDeltaNeutral_SingleAssetReasoning(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(50, 100, 0)
	m := e.MarketFor(context.Background(), s, "BTC", nil)
	rec, err := e.Recommend(breachFor(s, 10), s, m, DeltaNeutral)
	require.NoError(t, err)
	assert.NotContains(t, rec.Reasoning, "cross-asset")
}

func TestProtectivePut_StrikeAndPremium(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(2, 30000, 0.6)
	m := e.MarketFor(context.Background(), s, "BTC", nil)

	rec, err := e.Recommend(breachFor(s, 1), s, m, ProtectivePut)
	require.NoError(t, err)

	tte := pricing.TimeToExpiry(now.Add(30*24*time.Hour), now)
	want, err := pricing.Price(30000, 28500, tte, 0, 0.6, models.OptionPut)
	require.NoError(t, err)

	assert.InDelta(t, 28500, rec.Strike, 1e-9)
	assert.InDelta(t, want, rec.Premium, 1e-9)
	assert.InDelta(t, 2*want, rec.EstimatedCost, 1e-9)
	assert.Equal(t, 2.0, rec.Size)
	require.Len(t, rec.Legs, 1)
	assert.Equal(t, models.LegPut, rec.Legs[0].Kind)
	assert.Equal(t, models.OrderSideBuy, rec.Legs[0].Side)
}

func TestCollar_NetPremium(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.CapLevel = 0.05 })
	s := longBTC(1, 30000, 0.6)
	m := e.MarketFor(context.Background(), s, "BTC", nil)

	rec, err := e.Recommend(breachFor(s, 0.5), s, m, Collar)
	require.NoError(t, err)

	tte := m.TimeToExpiry
	put, _ := pricing.Price(30000, 28500, tte, 0, 0.6, models.OptionPut)
	call, _ := pricing.Price(30000, 31500, tte, 0, 0.6, models.OptionCall)

	assert.InDelta(t, 31500, rec.CallStrike, 1e-9)
	assert.InDelta(t, put-call, rec.NetPremium, 1e-9)
	assert.InDelta(t, put-call, rec.EstimatedCost, 1e-9)
	require.Len(t, rec.Legs, 2)
	assert.Equal(t, models.OrderSideSell, rec.Legs[1].Side)
	// Symmetric strikes at zero rates: the call is worth more, a net credit.
	assert.Less(t, rec.NetPremium, 0.0)
}

func TestRecommend_Errors(t *testing.T) {
	e := newTestEngine(t, nil)

	s := longBTC(1, 30000, 0)
	m := e.MarketFor(context.Background(), s, "BTC", nil)
	b := breachFor(s, 0.5)

	_, err := e.Recommend(b, s, m, "straddle")
	assert.True(t, errors.Is(err, errors.ErrUnsupportedStrategy))

	_, err = e.Recommend(b, s, m, ProtectivePut)
	assert.True(t, errors.Is(err, errors.ErrInsufficientData), "missing implied volatility")

	m.ImpliedVol = 0.5
	m.TimeToExpiry = 0
	_, err = e.Recommend(b, s, m, Collar)
	assert.True(t, errors.Is(err, errors.ErrInsufficientData), "missing time to expiry")

	short := longBTC(-1, 30000, 0.5)
	m = e.MarketFor(context.Background(), short, "BTC", nil)
	_, err = e.Recommend(breachFor(short, 0.5), short, m, ProtectivePut)
	assert.True(t, errors.Is(err, errors.ErrNotApplicable))

	var serr *errors.StrategyError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ProtectivePut, serr.Strategy)
}

func TestRecommend_CostCeiling(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MaxCostRatio = 0.0001 })
	s := longBTC(1, 30000, 0.8)
	m := e.MarketFor(context.Background(), s, "BTC", nil)

	_, err := e.Recommend(breachFor(s, 0.5), s, m, ProtectivePut)
	assert.True(t, errors.Is(err, errors.ErrNotApplicable))
}

func TestSelect_PicksCheapest(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(2, 30000, 0.6)
	m := e.MarketFor(context.Background(), s, "BTC", nil)
	b := breachFor(s, 1)

	best, err := e.Select(b, s, m)
	require.NoError(t, err)

	for _, name := range Names() {
		rec, err := e.Recommend(b, s, m, name)
		require.NoError(t, err)
		assert.LessOrEqual(t, best.EstimatedCost, rec.EstimatedCost, name)
	}

	auto, err := e.Recommend(b, s, m, "AUTO")
	require.NoError(t, err)
	assert.Equal(t, best.Strategy, auto.Strategy)
}

func TestSelect_FallsBackWhenOptionsUnpriced(t *testing.T) {
	e := newTestEngine(t, nil)
	s := longBTC(2, 30000, 0)
	m := e.MarketFor(context.Background(), s, "BTC", nil)

	rec, err := e.Select(breachFor(s, 1), s, m)
	require.NoError(t, err)
	assert.Equal(t, DeltaNeutral, rec.Strategy)

	empty := models.NewExposureSummary("alice", now)
	_, err = e.Select(models.Breach{AccountID: "alice", Metric: models.MetricDelta}, empty, MarketState{})
	assert.True(t, errors.Is(err, errors.ErrNotApplicable))
	assert.True(t, errors.Is(err, errors.ErrInsufficientData))
}

func TestRank(t *testing.T) {
	recs := []*models.HedgeRecommendation{
		{Strategy: ProtectivePut, EstimatedCost: 10, Urgency: models.UrgencyLow},
		{Strategy: Collar, EstimatedCost: -5, Urgency: models.UrgencyLow},
		{Strategy: DeltaNeutral, EstimatedCost: 10, Urgency: models.UrgencyHigh},
	}
	Rank(recs)
	assert.Equal(t, []string{Collar, DeltaNeutral, ProtectivePut},
		[]string{recs[0].Strategy, recs[1].Strategy, recs[2].Strategy})
}

func TestTarget(t *testing.T) {
	s := longBTC(1, 100, 0)
	s.ByUnderlying["ETH"] = models.Exposure{OptionGreeks: models.OptionGreeks{Delta: -5}}
	s.Underlyings["ETH-3000-C"] = "ETH"

	under, err := Target(models.Breach{}, s)
	require.NoError(t, err)
	assert.Equal(t, "ETH", under)

	under, err = Target(models.Breach{Instrument: "ETH-3000-C"}, s)
	require.NoError(t, err)
	assert.Equal(t, "ETH", under)

	_, err = Target(models.Breach{Instrument: "SOL"}, s)
	assert.True(t, errors.Is(err, errors.ErrInsufficientData))
}

func TestLookupAndNames(t *testing.T) {
	assert.Equal(t, []string{DeltaNeutral, ProtectivePut, Collar}, Names())
	assert.True(t, ValidName("Protective Put"))
	assert.True(t, ValidName("auto"))
	assert.False(t, ValidName("iron_condor"))
}

func TestConfigValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.ProtectionLevel = 1.2 },
		func(c *Config) { c.CapLevel = 0 },
		func(c *Config) { c.FeeRate = -0.1 },
		func(c *Config) { c.HedgeTenor = 0 },
		func(c *Config) { c.HedgeInstruments = map[string]HedgeInstrument{"BTC": {Symbol: "X"}} },
		func(c *Config) { c.ImpliedVols = map[string]float64{"BTC": -1} },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := NewEngine(cfg)
		assert.True(t, errors.Is(err, errors.ErrConfigInvalid), "case %d", i)
	}
}
