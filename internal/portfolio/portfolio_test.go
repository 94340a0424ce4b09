package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/market"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPortfolio(policy LotPolicy) *Portfolio {
	p := New("alice", policy, 0)
	p.now = func() time.Time { return testNow }
	return p
}

func btcCall(strike float64) *models.Instrument {
	return models.NewOption(fmt.Sprintf("BTC-%.0f-C", strike), "BTC", strike, testNow.Add(30*24*time.Hour), models.OptionCall, 0.6)
}

func TestAggregateExposure_SpotPosition(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	_, err := p.Add(models.NewSpot("BTC"), 0.5, 62900)
	require.NoError(t, err)

	s := p.AggregateExposure(testNow)
	assert.InDelta(t, 31450, s.Value, 1e-9)
	assert.InDelta(t, 0.5, s.Delta, 1e-12)
	assert.Zero(t, s.Gamma)
	assert.Zero(t, s.Vega)
	assert.Equal(t, 1, s.Positions)
	assert.Equal(t, 62900.0, s.UnderlyingPrices["BTC"])
}

func TestAggregateExposure_Empty(t *testing.T) {
	s := newTestPortfolio(DefaultLotPolicy()).AggregateExposure(testNow)
	assert.Equal(t, models.Exposure{}, s.Exposure)
	assert.Zero(t, s.Excluded)
	assert.Empty(t, s.ByInstrument)
	assert.Zero(t, s.PnLPercent())
}

func TestAggregateExposure_OptionGreeksAreSizeWeighted(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	call := btcCall(30000)
	_, err := p.Add(call, 2, 2000)
	require.NoError(t, err)
	_, err = p.Add(models.NewSpot("BTC"), -1, 30000)
	require.NoError(t, err)

	oracle := market.NewStaticOracle(map[string]float64{"BTC": 30000, call.Symbol: 2100})
	assert.Empty(t, p.MarkToMarket(context.Background(), oracle))

	s := p.AggregateExposure(testNow)
	unit, err := pricing.PriceAndGreeks(30000, 30000, pricing.TimeToExpiry(call.Expiry, testNow), 0, 0.6, models.OptionCall)
	require.NoError(t, err)

	assert.InDelta(t, 2*unit.Delta-1, s.Delta, 1e-9)
	assert.InDelta(t, 2*unit.Gamma, s.Gamma, 1e-12)
	assert.InDelta(t, 2*unit.Vega, s.Vega, 1e-9)
	assert.InDelta(t, 2*2100-30000, s.Value, 1e-9)
	assert.InDelta(t, 2*100, s.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 2*unit.Delta, s.ByInstrument[call.Symbol].Delta, 1e-9)
	assert.InDelta(t, 2*unit.Delta-1, s.ByUnderlying["BTC"].Delta, 1e-9)
	assert.InDelta(t, 0.6, s.ImpliedVols["BTC"], 1e-12)
}

func TestAdd_LotPolicy(t *testing.T) {
	single := newTestPortfolio(LotPolicy{AllowMultipleLots: false})
	_, err := single.Add(models.NewSpot("ETH"), 1, 3000)
	require.NoError(t, err)
	_, err = single.Add(models.NewSpot("eth"), 1, 3100)
	assert.True(t, errors.Is(err, errors.ErrDuplicateInstrument))

	multi := newTestPortfolio(LotPolicy{AllowMultipleLots: true})
	a, err := multi.Add(models.NewSpot("ETH"), 1, 3000)
	require.NoError(t, err)
	b, err := multi.Add(models.NewSpot("ETH"), 2, 3100)
	require.NoError(t, err)
	assert.Same(t, a.Instrument, b.Instrument)
	assert.InDelta(t, 3, multi.AggregateExposure(testNow).Delta, 1e-12)

	limited := newTestPortfolio(LotPolicy{AllowMultipleLots: true, MaxPositions: 1})
	_, err = limited.Add(models.NewSpot("SOL"), 1, 100)
	require.NoError(t, err)
	_, err = limited.Add(models.NewSpot("SOL"), 1, 100)
	assert.True(t, errors.Is(err, errors.ErrPositionLimit))
}

func TestAdd_Validation(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())

	_, err := p.Add(models.NewSpot("BTC"), 0, 100)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = p.Add(models.NewSpot("BTC"), 1, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = p.Add(models.NewOption("X", "BTC", 0, testNow, models.OptionPut, 0.5), 1, 10)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = p.Add(btcCall(30000), 1, 10)
	require.NoError(t, err)
	conflicting := btcCall(30000)
	conflicting.ImpliedVol = 0.9
	_, err = p.Add(conflicting, 1, 10)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestAddRemove_RoundTrip(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	_, err := p.Add(models.NewSpot("BTC"), 0.5, 62900)
	require.NoError(t, err)
	before := p.AggregateExposure(testNow)

	lot, err := p.Add(models.NewSpot("ETH"), -3, 3000)
	require.NoError(t, err)
	_, err = p.Remove(lot.ID)
	require.NoError(t, err)

	after := p.AggregateExposure(testNow)
	assert.Equal(t, before.Exposure, after.Exposure)
	assert.Equal(t, before.ByUnderlying, after.ByUnderlying)

	_, err = p.Remove(lot.ID)
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestClose_RemovesAllLotsAndKeepsOrder(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	for _, sym := range []string{"BTC", "ETH", "BTC", "SOL"} {
		_, err := p.Add(models.NewSpot(sym), 1, 10)
		require.NoError(t, err)
	}

	closed, err := p.Close("btc")
	require.NoError(t, err)
	assert.Len(t, closed, 2)

	var remaining []string
	for _, pos := range p.Positions() {
		remaining = append(remaining, pos.Symbol())
	}
	assert.Equal(t, []string{"ETH", "SOL"}, remaining)

	_, err = p.Close("BTC")
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestMarkToMarket_MissingPriceIsExcluded(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	_, err := p.Add(models.NewSpot("BTC"), 1, 60000)
	require.NoError(t, err)
	_, err = p.Add(models.NewSpot("DOGE"), 1000, 0.1)
	require.NoError(t, err)

	oracle := market.NewStaticOracle(map[string]float64{"BTC": 61000})
	warnings := p.MarkToMarket(context.Background(), oracle)
	require.Len(t, warnings, 1)
	assert.Equal(t, "DOGE", warnings[0].Symbol)
	assert.True(t, errors.Is(warnings[0], errors.ErrStalePrice))
	assert.True(t, errors.Is(warnings[0], errors.ErrPriceUnavailable))

	s := p.AggregateExposure(testNow)
	assert.Equal(t, 1, s.Excluded)
	assert.Equal(t, 1, s.Positions)
	assert.InDelta(t, 61000, s.Value, 1e-9)
	assert.InDelta(t, 1000, s.UnrealizedPnL, 1e-9)

	// Quantity and entry price are never touched by marking.
	for _, pos := range p.Positions() {
		if pos.Symbol() == "BTC" {
			assert.Equal(t, 1.0, pos.Quantity)
			assert.Equal(t, 60000.0, pos.EntryPrice)
			assert.Equal(t, 61000.0, pos.LastPrice)
		}
	}

	// A later successful mark clears the stale flag.
	require.NoError(t, oracle.SetPrice("DOGE", 0.2))
	assert.Empty(t, p.MarkToMarket(context.Background(), oracle))
	assert.Zero(t, p.AggregateExposure(testNow).Excluded)
}

func TestMarkToMarket_OptionWithoutQuoteIsMarkedToModel(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	call := btcCall(30000)
	_, err := p.Add(call, 1, 1500)
	require.NoError(t, err)

	oracle := market.NewStaticOracle(map[string]float64{"BTC": 30000})
	assert.Empty(t, p.MarkToMarket(context.Background(), oracle))

	want, err := pricing.Price(30000, 30000, pricing.TimeToExpiry(call.Expiry, testNow), 0, 0.6, models.OptionCall)
	require.NoError(t, err)
	assert.InDelta(t, want, p.Positions()[0].LastPrice, 1e-9)
}

func TestMarkToMarket_OptionWithoutUnderlyingIsStale(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	call := btcCall(30000)
	_, err := p.Add(call, 1, 1500)
	require.NoError(t, err)

	oracle := market.NewStaticOracle(map[string]float64{call.Symbol: 1600})
	warnings := p.MarkToMarket(context.Background(), oracle)
	require.Len(t, warnings, 1)
	assert.Equal(t, "BTC", warnings[0].Symbol)
	assert.Equal(t, 1, p.AggregateExposure(testNow).Excluded)
}

func TestMarkToMarket_QueriesEachSymbolOnce(t *testing.T) {
	p := newTestPortfolio(DefaultLotPolicy())
	for i := 0; i < 3; i++ {
		_, err := p.Add(models.NewSpot("BTC"), 1, 100)
		require.NoError(t, err)
	}
	_, err := p.Add(btcCall(100), 1, 5)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := map[string]int{}
	oracle := market.OracleFunc(func(ctx context.Context, symbol string) (float64, error) {
		mu.Lock()
		calls[symbol]++
		mu.Unlock()
		return 100, nil
	})

	p.MarkToMarket(context.Background(), oracle)
	assert.Equal(t, map[string]int{"BTC": 1, "BTC-100-C": 1}, calls)
}

func TestMarkToMarket_ConcurrentMutation(t *testing.T) {
	p := newTestPortfolio(LotPolicy{AllowMultipleLots: true})
	oracle := market.NewStaticOracle(map[string]float64{"BTC": 100, "ETH": 10})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				lot, err := p.Add(models.NewSpot("ETH"), 1, 10)
				if err == nil && j%2 == 0 {
					_, _ = p.Remove(lot.ID)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.MarkToMarket(context.Background(), oracle)
				p.AggregateExposure(testNow)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*25, p.Len())
	assert.InDelta(t, 8*25, p.AggregateExposure(testNow).Delta, 1e-9)
}

func TestBook(t *testing.T) {
	b := NewBook(DefaultLotPolicy(), 0.01)
	a := b.Account("bob")
	assert.Same(t, a, b.Account("bob"))
	b.Account("alice")

	assert.Equal(t, []string{"alice", "bob"}, b.Accounts())

	_, err := a.Add(models.NewSpot("BTC"), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Prune())
	assert.Equal(t, []string{"bob"}, b.Accounts())

	_, ok := b.Lookup("alice")
	assert.False(t, ok)
}
