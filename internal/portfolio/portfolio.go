// Package portfolio holds the positions of each account and derives their
// risk exposure.
package portfolio

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/market"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
)

// LotPolicy controls how positions may accumulate within an account.
type LotPolicy struct {
	// AllowMultipleLots permits several lots of the same instrument.
	AllowMultipleLots bool
	// MaxPositions caps the lots per account, zero means unlimited.
	MaxPositions int
}

// DefaultLotPolicy returns the default policy.
func DefaultLotPolicy() LotPolicy {
	return LotPolicy{
		AllowMultipleLots: true,
		MaxPositions:      50,
	}
}

// Portfolio is the ordered set of lots held by one account. All methods
// are safe for concurrent use.
type Portfolio struct {
	accountID string
	policy    LotPolicy
	rate      float64
	now       func() time.Time

	mu        sync.RWMutex
	positions []*models.Position
}

// New creates an empty portfolio. rate is the risk-free rate used when
// computing option Greeks.
func New(accountID string, policy LotPolicy, rate float64) *Portfolio {
	return &Portfolio{
		accountID: accountID,
		policy:    policy,
		rate:      rate,
		now:       time.Now,
	}
}

// AccountID returns the owning account.
func (p *Portfolio) AccountID() string {
	return p.accountID
}

// Add opens a lot of quantity units at entryPrice.
func (p *Portfolio) Add(inst *models.Instrument, quantity, entryPrice float64) (models.Position, error) {
	if inst == nil {
		return models.Position{}, errors.NewValidationError("instrument", nil, "instrument is required")
	}
	if err := inst.Validate(); err != nil {
		return models.Position{}, err
	}
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity == 0 {
		return models.Position{}, errors.NewValidationError("quantity", quantity, "quantity must be non-zero and finite")
	}
	if math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) || entryPrice <= 0 {
		return models.Position{}, errors.NewValidationError("entry_price", entryPrice, "entry price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.positions {
		if existing.Instrument.Symbol != inst.Symbol {
			continue
		}
		if !p.policy.AllowMultipleLots {
			return models.Position{}, errors.Wrapf(errors.ErrDuplicateInstrument, "%s already held by %s", inst.Symbol, p.accountID)
		}
		if !sameDefinition(existing.Instrument, inst) {
			return models.Position{}, errors.NewValidationError("instrument", inst.Symbol, "conflicts with the definition of an open lot")
		}
		// Lots of one instrument share a single definition.
		inst = existing.Instrument
		break
	}
	if p.policy.MaxPositions > 0 && len(p.positions) >= p.policy.MaxPositions {
		return models.Position{}, errors.Wrapf(errors.ErrPositionLimit, "%s holds %d lots", p.accountID, len(p.positions))
	}

	now := p.now()
	pos := &models.Position{
		ID:         uuid.NewString(),
		AccountID:  p.accountID,
		Instrument: inst,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		LastPrice:  entryPrice,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	p.positions = append(p.positions, pos)
	return *pos, nil
}

func sameDefinition(a, b *models.Instrument) bool {
	return a.Symbol == b.Symbol &&
		a.Class == b.Class &&
		a.Underlying == b.Underlying &&
		a.Strike == b.Strike &&
		a.Expiry.Equal(b.Expiry) &&
		a.OptionType == b.OptionType &&
		a.ImpliedVol == b.ImpliedVol
}

// Remove closes the lot with the given id.
func (p *Portfolio) Remove(lotID string) (models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, pos := range p.positions {
		if pos.ID == lotID {
			p.positions = append(p.positions[:i], p.positions[i+1:]...)
			return *pos, nil
		}
	}
	return models.Position{}, errors.Wrapf(errors.ErrPositionNotFound, "lot %s", lotID)
}

// Close removes every lot of symbol.
func (p *Portfolio) Close(symbol string) ([]models.Position, error) {
	symbol = models.NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	var closed []models.Position
	kept := p.positions[:0]
	for _, pos := range p.positions {
		if pos.Instrument.Symbol == symbol {
			closed = append(closed, *pos)
			continue
		}
		kept = append(kept, pos)
	}
	// Clear the tail so removed lots can be collected.
	for i := len(kept); i < len(p.positions); i++ {
		p.positions[i] = nil
	}
	p.positions = kept

	if len(closed) == 0 {
		return nil, errors.Wrapf(errors.ErrPositionNotFound, "%s has no %s lots", p.accountID, symbol)
	}
	return closed, nil
}

// Positions returns a copy of the lots in insertion order.
func (p *Portfolio) Positions() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Position, len(p.positions))
	for i, pos := range p.positions {
		out[i] = *pos
	}
	return out
}

// Len returns the number of open lots.
func (p *Portfolio) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

type quote struct {
	symbol string
	price  float64
	err    error
}

// MarkToMarket refreshes the last-seen prices of every lot. It queries the
// oracle once per distinct instrument and option underlying, without
// holding the portfolio lock. Lots whose price cannot be determined are
// flagged stale and a warning is returned for each missing symbol.
func (p *Portfolio) MarkToMarket(ctx context.Context, oracle market.PriceOracle) []*errors.StalePriceWarning {
	symbols := p.referencedSymbols()
	if len(symbols) == 0 {
		return nil
	}

	quotes := iter.Map(symbols, func(sym *string) quote {
		price, err := oracle.GetPrice(ctx, *sym)
		return quote{symbol: *sym, price: price, err: err}
	})

	prices := make(map[string]float64, len(quotes))
	var warnings []*errors.StalePriceWarning
	missing := make(map[string]error)
	for _, q := range quotes {
		if q.err != nil {
			missing[q.symbol] = q.err
			continue
		}
		prices[q.symbol] = q.price
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	warned := make(map[string]bool)
	warn := func(sym string) {
		if warned[sym] {
			return
		}
		warned[sym] = true
		warnings = append(warnings, errors.NewStalePriceWarning(p.accountID, sym, missing[sym]))
	}

	for _, pos := range p.positions {
		inst := pos.Instrument
		own, ownOK := prices[inst.Symbol]

		if !inst.IsOption() {
			if !ownOK {
				pos.Stale = true
				warn(inst.Symbol)
				continue
			}
			pos.LastPrice, pos.Stale, pos.UpdatedAt = own, false, now
			continue
		}

		under, underOK := prices[inst.UnderlyingSymbol()]
		if !underOK {
			pos.Stale = true
			warn(inst.UnderlyingSymbol())
			continue
		}
		pos.UnderlyingPrice = under

		if !ownOK {
			// Mark to model from the underlying when the option has no quote.
			modelPrice, err := p.modelPrice(inst, under, now)
			if err != nil {
				pos.Stale = true
				missing[inst.Symbol] = errors.Join(missing[inst.Symbol], err)
				warn(inst.Symbol)
				continue
			}
			own = modelPrice
		}
		pos.LastPrice, pos.Stale, pos.UpdatedAt = own, false, now
	}
	return warnings
}

func (p *Portfolio) referencedSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	add := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, pos := range p.positions {
		add(pos.Instrument.Symbol)
		if pos.Instrument.IsOption() {
			add(pos.Instrument.UnderlyingSymbol())
		}
	}
	return symbols
}

func (p *Portfolio) modelPrice(inst *models.Instrument, underlying float64, now time.Time) (float64, error) {
	if inst.ImpliedVol <= 0 {
		return 0, errors.NewLookupError("implied_vol", inst.Symbol, "no quote and no implied volatility", errors.ErrInsufficientData)
	}
	return pricing.Price(underlying, inst.Strike, pricing.TimeToExpiry(inst.Expiry, now), p.rate, inst.ImpliedVol, inst.OptionType)
}

// AggregateExposure derives the account's exposure from the current lots.
// Stale lots, and option lots whose Greeks cannot be computed, are
// excluded and counted in Excluded.
func (p *Portfolio) AggregateExposure(asOf time.Time) models.ExposureSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary := models.NewExposureSummary(p.accountID, asOf)
	volWeight := make(map[string]float64)

	for _, pos := range p.positions {
		if pos.Stale {
			summary.Excluded++
			continue
		}
		e, vol, ok := p.exposureOf(pos, asOf)
		if !ok {
			summary.Excluded++
			continue
		}

		inst := pos.Instrument
		under := inst.UnderlyingSymbol()
		summary.Exposure = summary.Exposure.Add(e)
		summary.ByInstrument[inst.Symbol] = summary.ByInstrument[inst.Symbol].Add(e)
		summary.ByUnderlying[under] = summary.ByUnderlying[under].Add(e)
		summary.Underlyings[inst.Symbol] = under

		if inst.IsOption() {
			summary.UnderlyingPrices[under] = pos.UnderlyingPrice
			w := math.Abs(pos.Quantity)
			summary.ImpliedVols[under] += vol * w
			volWeight[under] += w
		} else {
			summary.UnderlyingPrices[under] = pos.LastPrice
		}
	}

	for under, w := range volWeight {
		summary.ImpliedVols[under] /= w
	}
	return summary
}

// exposureOf must be called with mu held.
func (p *Portfolio) exposureOf(pos *models.Position, asOf time.Time) (models.Exposure, float64, bool) {
	e := models.Exposure{
		Value:         pos.MarketValue(),
		EntryValue:    pos.EntryValue(),
		UnrealizedPnL: pos.UnrealizedPnL(),
		Positions:     1,
	}

	inst := pos.Instrument
	if !inst.IsOption() {
		e.Delta = pos.Quantity
		return e, 0, true
	}

	t := pricing.TimeToExpiry(inst.Expiry, asOf)
	vol := inst.ImpliedVol
	if vol <= 0 && t > 0 && pos.UnderlyingPrice > 0 {
		implied, err := pricing.ImpliedVolatility(pos.LastPrice, pos.UnderlyingPrice, inst.Strike, t, p.rate, inst.OptionType)
		if err != nil {
			return e, 0, false
		}
		vol = implied
	}

	res, err := pricing.PriceAndGreeks(pos.UnderlyingPrice, inst.Strike, t, p.rate, vol, inst.OptionType)
	if err != nil {
		return e, 0, false
	}
	e.OptionGreeks = res.OptionGreeks.Scale(pos.Quantity)
	return e, vol, true
}

// Book is the registry of portfolios by account.
type Book struct {
	policy LotPolicy
	rate   float64

	mu       sync.RWMutex
	accounts map[string]*Portfolio
}

// NewBook creates an empty book whose portfolios share policy and rate.
func NewBook(policy LotPolicy, rate float64) *Book {
	return &Book{
		policy:   policy,
		rate:     rate,
		accounts: make(map[string]*Portfolio),
	}
}

// Account returns the portfolio of accountID, creating it on first use.
func (b *Book) Account(accountID string) *Portfolio {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.accounts[accountID]
	if !ok {
		p = New(accountID, b.policy, b.rate)
		b.accounts[accountID] = p
	}
	return p
}

// Lookup returns the portfolio of accountID if it exists.
func (b *Book) Lookup(accountID string) (*Portfolio, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.accounts[accountID]
	return p, ok
}

// Accounts returns the account ids in sorted order.
func (b *Book) Accounts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.accounts))
	for id := range b.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune drops accounts without open lots.
func (b *Book) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, p := range b.accounts {
		if p.Len() == 0 {
			delete(b.accounts, id)
			removed++
		}
	}
	return removed
}
