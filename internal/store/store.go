// Package store provides persistence for risk thresholds, account settings
// and the delivery journal.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/risk"
)

// ThresholdStore is the read side the monitor depends on.
type ThresholdStore interface {
	GetThresholds(ctx context.Context, accountID string) ([]models.RiskThreshold, error)
}

// SettingsStore resolves per-account settings.
type SettingsStore interface {
	// DefaultStrategy returns the account's hedge strategy, or "" when none
	// is configured.
	DefaultStrategy(ctx context.Context, accountID string) (string, error)
}

// DataStore is the full persistence surface used by the CLI.
type DataStore interface {
	ThresholdStore
	SettingsStore

	SetThreshold(ctx context.Context, t models.RiskThreshold) error
	RemoveThreshold(ctx context.Context, accountID, instrument string, metric models.Metric) error
	ListThresholds(ctx context.Context) ([]models.RiskThreshold, error)
	ListAccounts(ctx context.Context) ([]string, error)

	SetDefaultStrategy(ctx context.Context, accountID, strategy string) error

	RecordDelivery(ctx context.Context, d models.Delivery) error
	History(ctx context.Context, filter HistoryFilter) ([]JournalEntry, error)

	Close() error
}

// HistoryFilter represents filters for querying the delivery journal.
type HistoryFilter struct {
	AccountID string
	Since     time.Time
	Limit     int
}

// JournalEntry is one recorded delivery.
type JournalEntry struct {
	ID            string
	AccountID     string
	Instrument    string
	Metric        models.Metric
	Observed      float64
	Limit         float64
	Severity      float64
	Strategy      string
	EstimatedCost float64
	Urgency       string
	Reason        string
	CreatedAt     time.Time
}

// EntryFor flattens a delivery into a journal entry.
func EntryFor(d models.Delivery) JournalEntry {
	e := JournalEntry{
		ID:         d.ID,
		AccountID:  d.AccountID,
		Instrument: d.Breach.Instrument,
		Metric:     d.Breach.Metric,
		Observed:   d.Breach.Observed,
		Limit:      d.Breach.Limit,
		Severity:   d.Breach.Severity,
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
	}
	if rec := d.Recommendation; rec != nil {
		e.Strategy = rec.Strategy
		e.EstimatedCost = rec.EstimatedCost
		e.Urgency = rec.Urgency.String()
		if e.Reason == "" {
			e.Reason = rec.Reasoning
		}
	}
	return e
}

// thresholdKey identifies a threshold; a later write with the same key
// replaces the earlier one.
func thresholdKey(t models.RiskThreshold) string {
	return t.AccountID + "|" + t.Instrument + "|" + string(t.Metric)
}

func normalizeThreshold(t models.RiskThreshold) (models.RiskThreshold, error) {
	t.AccountID = strings.TrimSpace(t.AccountID)
	t.Instrument = models.NormalizeSymbol(t.Instrument)
	m, err := models.ParseMetric(string(t.Metric))
	if err != nil {
		return t, err
	}
	t.Metric = m
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func sortThresholds(ts []models.RiskThreshold) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		return a.Metric < b.Metric
	})
}

// MemoryStore is an in-memory DataStore, used for config-seeded runs and
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	thresholds map[string]models.RiskThreshold
	strategies map[string]string
	journal    []JournalEntry
	closed     bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		thresholds: make(map[string]models.RiskThreshold),
		strategies: make(map[string]string),
	}
}

func (s *MemoryStore) check() error {
	if s.closed {
		return errors.Wrap(errors.ErrStoreUnavailable, "store closed")
	}
	return nil
}

// GetThresholds returns the thresholds configured for an account.
func (s *MemoryStore) GetThresholds(ctx context.Context, accountID string) ([]models.RiskThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var out []models.RiskThreshold
	for _, t := range s.thresholds {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sortThresholds(out)
	return out, nil
}

// SetThreshold adds or replaces a threshold.
func (s *MemoryStore) SetThreshold(ctx context.Context, t models.RiskThreshold) error {
	t, err := normalizeThreshold(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.thresholds[thresholdKey(t)] = t
	return nil
}

// RemoveThreshold deletes a threshold.
func (s *MemoryStore) RemoveThreshold(ctx context.Context, accountID, instrument string, metric models.Metric) error {
	key := thresholdKey(models.RiskThreshold{AccountID: accountID, Instrument: models.NormalizeSymbol(instrument), Metric: metric})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.thresholds[key]; !ok {
		return errors.NewLookupError("threshold", key, "not found", errors.ErrInvalidInput)
	}
	delete(s.thresholds, key)
	return nil
}

// ListThresholds returns every threshold.
func (s *MemoryStore) ListThresholds(ctx context.Context) ([]models.RiskThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]models.RiskThreshold, 0, len(s.thresholds))
	for _, t := range s.thresholds {
		out = append(out, t)
	}
	sortThresholds(out)
	return out, nil
}

// ListAccounts returns every account with a threshold or a setting.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range s.thresholds {
		seen[t.AccountID] = true
	}
	for id := range s.strategies {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// DefaultStrategy returns the account's configured strategy.
func (s *MemoryStore) DefaultStrategy(ctx context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}
	return s.strategies[accountID], nil
}

// SetDefaultStrategy sets the account's strategy; "" clears it.
func (s *MemoryStore) SetDefaultStrategy(ctx context.Context, accountID, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if strategy == "" {
		delete(s.strategies, accountID)
		return nil
	}
	s.strategies[accountID] = strategy
	return nil
}

// RecordDelivery appends a delivery to the journal.
func (s *MemoryStore) RecordDelivery(ctx context.Context, d models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.journal = append(s.journal, EntryFor(d))
	return nil
}

// History returns journal entries, newest first.
func (s *MemoryStore) History(ctx context.Context, filter HistoryFilter) ([]JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var out []JournalEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		e := s.journal[i]
		if filter.AccountID != "" && e.AccountID != filter.AccountID {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Close marks the store closed; later calls fail with ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Seed validates thresholds and writes them to a store. Every invalid
// threshold is reported, joined with ErrConfigInvalid, and nothing is
// written.
func Seed(ctx context.Context, s DataStore, thresholds []models.RiskThreshold) error {
	normalized := make([]models.RiskThreshold, len(thresholds))
	for i, t := range thresholds {
		normalized[i], _ = normalizeThreshold(t)
	}
	if err := risk.ValidateThresholds(normalized); err != nil {
		return err
	}

	for _, t := range normalized {
		if err := s.SetThreshold(ctx, t); err != nil {
			return errors.Wrapf(err, "seeding threshold for %s", t.AccountID)
		}
	}
	return nil
}
