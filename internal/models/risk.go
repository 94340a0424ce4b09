package models

import (
	"math"
	"strings"
	"time"

	"spot-hedger/internal/errors"
)

// Metric names a risk metric that thresholds can be placed on.
type Metric string

const (
	MetricDelta Metric = "delta"
	MetricGamma Metric = "gamma"
	MetricTheta Metric = "theta"
	MetricVega  Metric = "vega"
	MetricRho   Metric = "rho"
	MetricValue Metric = "value"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricDelta, MetricGamma, MetricTheta, MetricVega, MetricRho, MetricValue}

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Metrics {
		if m == known {
			return m, nil
		}
	}
	return "", errors.NewValidationError("metric", s, "unknown risk metric")
}

// RiskThreshold limits the absolute value of a metric for an account.
// An empty Instrument scopes the threshold to the whole portfolio;
// otherwise it names an instrument or an underlying symbol.
type RiskThreshold struct {
	AccountID  string
	Instrument string
	Metric     Metric
	Limit      float64
}

// Validate checks the threshold shape.
func (t RiskThreshold) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return errors.NewValidationError("account", t.AccountID, "account is required")
	}
	if _, err := ParseMetric(string(t.Metric)); err != nil {
		return err
	}
	if math.IsNaN(t.Limit) || math.IsInf(t.Limit, 0) || t.Limit <= 0 {
		return errors.NewValidationError("limit", t.Limit, "limit must be a positive finite number")
	}
	return nil
}

// Scope returns the display scope of the threshold.
func (t RiskThreshold) Scope() string {
	if t.Instrument == "" {
		return "portfolio"
	}
	return t.Instrument
}

// Breach is a metric observed beyond its configured limit.
type Breach struct {
	AccountID  string
	Instrument string
	Metric     Metric
	Observed   float64
	Limit      float64
	Severity   float64 // |observed| / limit
	DetectedAt time.Time
}

// Key identifies the breach for de-duplication.
func (b Breach) Key() string {
	return b.AccountID + "|" + b.Instrument + "|" + string(b.Metric)
}

// Scope returns the display scope of the breach.
func (b Breach) Scope() string {
	if b.Instrument == "" {
		return "portfolio"
	}
	return b.Instrument
}

// Exposure is the aggregated risk of a group of positions.
type Exposure struct {
	Value         float64
	EntryValue    float64
	UnrealizedPnL float64
	OptionGreeks
	Positions int
}

// Metric returns the value of the named metric.
func (e Exposure) Metric(m Metric) float64 {
	switch m {
	case MetricDelta:
		return e.Delta
	case MetricGamma:
		return e.Gamma
	case MetricTheta:
		return e.Theta
	case MetricVega:
		return e.Vega
	case MetricRho:
		return e.Rho
	case MetricValue:
		return e.Value
	}
	return 0
}

// Add returns the sum of two exposures.
func (e Exposure) Add(o Exposure) Exposure {
	return Exposure{
		Value:         e.Value + o.Value,
		EntryValue:    e.EntryValue + o.EntryValue,
		UnrealizedPnL: e.UnrealizedPnL + o.UnrealizedPnL,
		OptionGreeks:  e.OptionGreeks.Add(o.OptionGreeks),
		Positions:     e.Positions + o.Positions,
	}
}

// ExposureSummary is the derived risk of one account at a point in time.
// It is recomputed on every query and never stored.
type ExposureSummary struct {
	AccountID string
	AsOf      time.Time
	Exposure
	Excluded int

	ByInstrument map[string]Exposure
	ByUnderlying map[string]Exposure

	// Underlying of every instrument in ByInstrument.
	Underlyings map[string]string
	// Last seen price per underlying and size-weighted implied volatility
	// of the option lots written on it.
	UnderlyingPrices map[string]float64
	ImpliedVols      map[string]float64
}

// NewExposureSummary returns an all-zero summary.
func NewExposureSummary(accountID string, asOf time.Time) ExposureSummary {
	return ExposureSummary{
		AccountID:        accountID,
		AsOf:             asOf,
		ByInstrument:     make(map[string]Exposure),
		ByUnderlying:     make(map[string]Exposure),
		Underlyings:      make(map[string]string),
		UnderlyingPrices: make(map[string]float64),
		ImpliedVols:      make(map[string]float64),
	}
}

// Scoped returns the exposure of an instrument, falling back to an
// underlying of the same symbol.
func (s ExposureSummary) Scoped(symbol string) (Exposure, bool) {
	if symbol == "" {
		return s.Exposure, true
	}
	if e, ok := s.ByInstrument[symbol]; ok {
		return e, true
	}
	e, ok := s.ByUnderlying[symbol]
	return e, ok
}

// UnderlyingOf returns the underlying of an instrument or underlying
// symbol held in the summary.
func (s ExposureSummary) UnderlyingOf(symbol string) (string, bool) {
	if u, ok := s.Underlyings[symbol]; ok {
		return u, true
	}
	if _, ok := s.ByUnderlying[symbol]; ok {
		return symbol, true
	}
	return "", false
}

// PnLPercent returns unrealized P&L as a percentage of entry value.
func (s ExposureSummary) PnLPercent() float64 {
	if s.EntryValue == 0 {
		return 0
	}
	return s.UnrealizedPnL / math.Abs(s.EntryValue) * 100
}

// LargestDeltaUnderlying returns the underlying with the largest absolute
// delta, ties broken by symbol.
func (s ExposureSummary) LargestDeltaUnderlying() (string, bool) {
	best, bestDelta := "", -1.0
	for sym, e := range s.ByUnderlying {
		d := math.Abs(e.Delta)
		if d > bestDelta || (d == bestDelta && sym < best) {
			best, bestDelta = sym, d
		}
	}
	return best, best != ""
}
