package models

import "time"

// Urgency ranks how quickly a hedge should be acted on.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "CRITICAL"
	}
	return "LOW"
}

// UrgencyForSeverity maps a breach severity ratio to an urgency.
func UrgencyForSeverity(severity float64) Urgency {
	switch {
	case severity > 3:
		return UrgencyCritical
	case severity > 2:
		return UrgencyHigh
	case severity > 1.5:
		return UrgencyMedium
	}
	return UrgencyLow
}

// LegKind is the instrument kind of a hedge leg.
type LegKind string

const (
	LegSpot LegKind = "spot"
	LegCall LegKind = "call"
	LegPut  LegKind = "put"
)

// HedgeLeg is one instrument to trade as part of a hedge.
type HedgeLeg struct {
	Symbol string
	Kind   LegKind
	Side   OrderSide
	Size   float64 // unsigned, direction is Side
	Price  float64 // spot price or option premium per unit
	Strike float64
	Expiry time.Time
}

// HedgeRecommendation is a priced hedge for a breach.
type HedgeRecommendation struct {
	ID            string
	AccountID     string
	Strategy      string
	Underlying    string
	Legs          []HedgeLeg
	Size          float64 // signed for delta-neutral, unit count otherwise
	Strike        float64 // put strike
	CallStrike    float64
	Premium       float64 // per unit
	NetPremium    float64 // per unit, negative is a net credit
	EstimatedCost float64
	Urgency       Urgency
	Reasoning     string
	CreatedAt     time.Time
}
