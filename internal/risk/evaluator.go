// Package risk compares derived exposures against configured thresholds.
package risk

import (
	"fmt"
	"math"
	"sort"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

// Evaluate returns the breaches of summary against the thresholds that
// belong to its account, most severe first. It is stateless: the same
// inputs always yield the same breaches.
func Evaluate(summary models.ExposureSummary, thresholds []models.RiskThreshold) []models.Breach {
	var breaches []models.Breach
	for _, th := range thresholds {
		if th.AccountID != summary.AccountID || th.Limit <= 0 {
			continue
		}

		exposure, _ := summary.Scoped(th.Instrument)
		observed := exposure.Metric(th.Metric)
		if math.Abs(observed) <= th.Limit {
			continue
		}

		breaches = append(breaches, models.Breach{
			AccountID:  summary.AccountID,
			Instrument: th.Instrument,
			Metric:     th.Metric,
			Observed:   observed,
			Limit:      th.Limit,
			Severity:   math.Abs(observed) / th.Limit,
			DetectedAt: summary.AsOf,
		})
	}

	SortBreaches(breaches)
	return breaches
}

// SortBreaches orders breaches by severity descending, then metric name,
// then instrument.
func SortBreaches(breaches []models.Breach) {
	sort.SliceStable(breaches, func(i, j int) bool {
		a, b := breaches[i], breaches[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Instrument < b.Instrument
	})
}

// ValidateThresholds checks every threshold and rejects duplicates of the
// same (account, instrument, metric).
func ValidateThresholds(thresholds []models.RiskThreshold) error {
	seen := make(map[string]bool, len(thresholds))
	var errs []error
	for i, th := range thresholds {
		if err := th.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("threshold %d: %w", i, err))
			continue
		}
		key := th.AccountID + "|" + th.Instrument + "|" + string(th.Metric)
		if seen[key] {
			errs = append(errs, fmt.Errorf("threshold %d: %w", i,
				errors.NewValidationError("threshold", key, "duplicate threshold")))
			continue
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errors.ErrConfigInvalid}, errs...)...)
	}
	return nil
}

// Describe returns a one-line human description of a breach.
func Describe(b models.Breach) string {
	return fmt.Sprintf("%s %s %.4f exceeds limit %.4f (%.2fx, %s)",
		b.Scope(), b.Metric, b.Observed, b.Limit, b.Severity, models.UrgencyForSeverity(b.Severity))
}
