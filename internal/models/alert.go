package models

import "time"

// Delivery is one breach handed to the notification layer, with its hedge
// recommendation or the reason none could be computed.
type Delivery struct {
	ID             string
	AccountID      string
	Breach         Breach
	Recommendation *HedgeRecommendation
	Reason         string
	Warnings       []string
	Summary        *ExposureSummary
	CreatedAt      time.Time
}

// HasRecommendation reports whether a hedge was computed.
func (d Delivery) HasRecommendation() bool {
	return d.Recommendation != nil
}
