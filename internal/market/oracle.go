// Package market provides the price oracles the hedging core marks
// positions against.
package market

import (
	"context"
	"math"
	"sync"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

// PriceOracle supplies the current price of an instrument. Implementations
// must be safe for concurrent use and fail with errors.ErrPriceUnavailable
// when no price is known.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// OracleFunc adapts a function to the PriceOracle interface.
type OracleFunc func(ctx context.Context, symbol string) (float64, error)

// GetPrice calls f.
func (f OracleFunc) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return f(ctx, symbol)
}

// StaticOracle is an in-memory oracle whose prices are set explicitly.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticOracle creates an oracle seeded with prices.
func NewStaticOracle(prices map[string]float64) *StaticOracle {
	o := &StaticOracle{prices: make(map[string]float64, len(prices))}
	for sym, p := range prices {
		o.prices[models.NormalizeSymbol(sym)] = p
	}
	return o
}

// GetPrice returns the last price set for symbol.
func (o *StaticOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.RLock()
	p, ok := o.prices[models.NormalizeSymbol(symbol)]
	o.mu.RUnlock()
	if !ok {
		return 0, errors.NewLookupError("price", symbol, "no quote", errors.ErrPriceUnavailable)
	}
	return p, nil
}

// SetPrice sets the price of a symbol.
func (o *StaticOracle) SetPrice(symbol string, price float64) error {
	if err := validPrice(symbol, price); err != nil {
		return err
	}
	o.mu.Lock()
	o.prices[models.NormalizeSymbol(symbol)] = price
	o.mu.Unlock()
	return nil
}

// Delete removes a symbol's price.
func (o *StaticOracle) Delete(symbol string) {
	o.mu.Lock()
	delete(o.prices, models.NormalizeSymbol(symbol))
	o.mu.Unlock()
}

// Snapshot returns a copy of all known prices.
func (o *StaticOracle) Snapshot() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]float64, len(o.prices))
	for k, v := range o.prices {
		out[k] = v
	}
	return out
}

func validPrice(symbol string, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return errors.NewValidationError("price", price, "price for "+symbol+" must be a positive finite number")
	}
	return nil
}
