// Package models provides domain models for the hedging core.
package models

import (
	"strings"
	"time"

	"spot-hedger/internal/errors"
)

// AssetClass represents the class of a tracked instrument.
type AssetClass string

const (
	AssetSpot   AssetClass = "spot"
	AssetOption AssetClass = "option"
)

// OptionType represents the right carried by an option contract.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// ParseOptionType parses "call"/"put" (also "CE"/"PE", any case).
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c", "ce":
		return OptionCall, nil
	case "put", "p", "pe":
		return OptionPut, nil
	}
	return "", errors.NewValidationError("option_type", s, "must be call or put")
}

// OrderSide represents the side of a hedge leg.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// SideFor returns the side that acquires a signed quantity.
func SideFor(quantity float64) OrderSide {
	if quantity < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Instrument represents a tradeable instrument. Instruments are immutable
// once created and shared by reference between positions.
type Instrument struct {
	Symbol     string
	Class      AssetClass
	Underlying string

	// Option fields, zero for spot instruments.
	Strike     float64
	Expiry     time.Time
	OptionType OptionType
	ImpliedVol float64
}

// NewSpot creates a spot instrument.
func NewSpot(symbol string) *Instrument {
	symbol = NormalizeSymbol(symbol)
	return &Instrument{
		Symbol:     symbol,
		Class:      AssetSpot,
		Underlying: symbol,
	}
}

// NewOption creates an option instrument on the given underlying.
func NewOption(symbol, underlying string, strike float64, expiry time.Time, optionType OptionType, impliedVol float64) *Instrument {
	return &Instrument{
		Symbol:     NormalizeSymbol(symbol),
		Class:      AssetOption,
		Underlying: NormalizeSymbol(underlying),
		Strike:     strike,
		Expiry:     expiry,
		OptionType: optionType,
		ImpliedVol: impliedVol,
	}
}

// IsOption reports whether the instrument is an option.
func (i *Instrument) IsOption() bool {
	return i.Class == AssetOption
}

// UnderlyingSymbol returns the symbol whose price drives the instrument.
func (i *Instrument) UnderlyingSymbol() string {
	if i.Underlying == "" {
		return i.Symbol
	}
	return i.Underlying
}

// Validate checks the instrument definition.
func (i *Instrument) Validate() error {
	if i.Symbol == "" {
		return errors.NewValidationError("symbol", i.Symbol, "symbol is required")
	}
	switch i.Class {
	case AssetSpot:
		return nil
	case AssetOption:
	default:
		return errors.NewValidationError("asset_class", i.Class, "must be spot or option")
	}
	if i.Underlying == "" {
		return errors.NewValidationError("underlying", i.Underlying, "option requires an underlying")
	}
	if i.Strike <= 0 {
		return errors.NewValidationError("strike", i.Strike, "strike must be positive")
	}
	if i.Expiry.IsZero() {
		return errors.NewValidationError("expiry", i.Expiry, "option requires an expiry")
	}
	if i.OptionType != OptionCall && i.OptionType != OptionPut {
		return errors.NewValidationError("option_type", i.OptionType, "must be call or put")
	}
	if i.ImpliedVol < 0 {
		return errors.NewValidationError("implied_vol", i.ImpliedVol, "implied volatility cannot be negative")
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Position represents one lot held by an account.
type Position struct {
	ID              string
	AccountID       string
	Instrument      *Instrument
	Quantity        float64 // positive = long
	EntryPrice      float64
	LastPrice       float64
	UnderlyingPrice float64 // options only
	Stale           bool
	OpenedAt        time.Time
	UpdatedAt       time.Time
}

// Symbol returns the instrument symbol of the position.
func (p Position) Symbol() string {
	if p.Instrument == nil {
		return ""
	}
	return p.Instrument.Symbol
}

// MarketValue returns the signed value at the last-seen price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}

// EntryValue returns the signed value at the entry price.
func (p Position) EntryValue() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPnL returns market value less entry value.
func (p Position) UnrealizedPnL() float64 {
	return p.MarketValue() - p.EntryValue()
}
