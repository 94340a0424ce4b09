// Package monitor runs the periodic risk evaluation loop.
//
// Every tick marks each account's positions to market, aggregates its
// exposure, compares it against the account's thresholds and, for every
// breach outside the alert cooldown, computes a hedge recommendation.
// Deliveries are handed to a dispatcher goroutine through a bounded queue
// so slow notification channels never stall evaluation.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/logging"
	"spot-hedger/internal/market"
	"spot-hedger/internal/metrics"
	"spot-hedger/internal/models"
	"spot-hedger/internal/notify"
	"spot-hedger/internal/portfolio"
	"spot-hedger/internal/risk"
	"spot-hedger/internal/store"
	"spot-hedger/internal/strategy"
)

// State is the lifecycle state of a Monitor.
type State int32

const (
	StateIdle State = iota
	StateEvaluating
	StateReporting
	StateStopped
)

var stateNames = []string{"idle", "evaluating", "reporting", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Config holds loop parameters.
type Config struct {
	Interval      time.Duration
	Cooldown      time.Duration
	OracleTimeout time.Duration
	NotifyTimeout time.Duration
	MaxParallel   int
	QueueSize     int

	// DefaultStrategy applies to accounts without a stored or configured
	// strategy.
	DefaultStrategy   string
	AccountStrategies map[string]string
}

// DefaultConfig returns the default loop parameters.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		Cooldown:        5 * time.Minute,
		OracleTimeout:   5 * time.Second,
		NotifyTimeout:   10 * time.Second,
		MaxParallel:     8,
		QueueSize:       256,
		DefaultStrategy: strategy.DeltaNeutral,
	}
}

func (c Config) validate() error {
	switch {
	case c.Interval <= 0:
		return errors.NewValidationError("interval", c.Interval, "must be positive")
	case c.Cooldown < 0:
		return errors.NewValidationError("cooldown", c.Cooldown, "cannot be negative")
	case c.OracleTimeout <= 0:
		return errors.NewValidationError("oracle_timeout", c.OracleTimeout, "must be positive")
	case c.NotifyTimeout <= 0:
		return errors.NewValidationError("notify_timeout", c.NotifyTimeout, "must be positive")
	case c.MaxParallel < 1:
		return errors.NewValidationError("max_parallel", c.MaxParallel, "must be at least 1")
	case c.QueueSize < 1:
		return errors.NewValidationError("queue_size", c.QueueSize, "must be at least 1")
	case !strategy.ValidName(c.DefaultStrategy):
		return errors.NewValidationError("default_strategy", c.DefaultStrategy, "unknown strategy")
	}
	return nil
}

// Deps are the collaborators of a Monitor. Settings and Metrics are
// optional.
type Deps struct {
	Book       *portfolio.Book
	Thresholds store.ThresholdStore
	Settings   store.SettingsStore
	Oracle     market.PriceOracle
	Engine     *strategy.Engine
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// AccountReport is the outcome of evaluating one account in a tick.
type AccountReport struct {
	AccountID  string
	Strategy   string
	Summary    models.ExposureSummary
	Breaches   []models.Breach
	Suppressed int
	Deliveries []models.Delivery
	Warnings   []*errors.StalePriceWarning
	Err        error
}

// Monitor evaluates every account of a book on a fixed interval.
type Monitor struct {
	cfg      Config
	deps     Deps
	cooldown *risk.Cooldown
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	state    atomic.Int32
	lastTick atomic.Int64

	mu      sync.Mutex
	outbox  chan models.Delivery
	closed  bool
	started bool
}

// New creates a monitor. Missing collaborators and invalid parameters fail
// with errors.ErrConfigInvalid.
func New(cfg Config, deps Deps) (*Monitor, error) {
	var errs []error
	if deps.Book == nil {
		errs = append(errs, errors.NewValidationError("book", nil, "portfolio book is required"))
	}
	if deps.Thresholds == nil {
		errs = append(errs, errors.NewValidationError("thresholds", nil, "threshold store is required"))
	}
	if deps.Oracle == nil {
		errs = append(errs, errors.NewValidationError("oracle", nil, "price oracle is required"))
	}
	if deps.Engine == nil {
		errs = append(errs, errors.NewValidationError("engine", nil, "strategy engine is required"))
	}
	if deps.Notifier == nil {
		errs = append(errs, errors.NewValidationError("notifier", nil, "notifier is required"))
	}
	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{errors.ErrConfigInvalid}, errs...)...)
	}

	if deps.Settings == nil {
		if s, ok := deps.Thresholds.(store.SettingsStore); ok {
			deps.Settings = s
		}
	}
	m := &Monitor{
		cfg:      cfg,
		deps:     deps,
		cooldown: risk.NewCooldown(cfg.Cooldown),
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
		outbox:   make(chan models.Delivery, cfg.QueueSize),
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	m.setState(StateIdle)
	return m, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// LastTick returns when the last evaluation finished, or the zero time
// before the first one.
func (m *Monitor) LastTick() time.Time {
	ns := m.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.SetState(s.String(), stateNames)
}

// Metrics returns the monitor's collectors.
func (m *Monitor) Metrics() *metrics.Metrics {
	return m.metrics
}

// Run evaluates immediately and then every interval until ctx is
// cancelled. Cancellation is observed between ticks: a tick in progress
// completes, queued deliveries are drained and the monitor stops. Run may
// only be called once.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrInvalidInput, "monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.dispatch()
	}()

	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Dur("cooldown", m.cfg.Cooldown).
		Int("max_parallel", m.cfg.MaxParallel).
		Msg("Monitor started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Tick(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			// Prefer shutdown when both are ready.
			if ctx.Err() != nil {
				break loop
			}
			m.Tick(ctx)
		}
	}

	m.mu.Lock()
	m.closed = true
	close(m.outbox)
	m.mu.Unlock()

	<-done
	m.setState(StateStopped)
	m.logger.Info().Msg("Monitor stopped")
	return nil
}

// dispatch delivers queued deliveries until the outbox is closed and empty.
func (m *Monitor) dispatch() {
	for d := range m.outbox {
		m.metrics.QueueDepth.Set(float64(len(m.outbox)))
		m.deliver(context.Background(), d)
	}
}

func (m *Monitor) deliver(ctx context.Context, d models.Delivery) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.NotifyTimeout)
	defer cancel()

	logger := logging.WithAccount(m.logger, d.AccountID)
	if err := m.deps.Notifier.Deliver(ctx, d); err != nil {
		m.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
		logger.Error().Err(err).Str("delivery", d.ID).Msg("Delivery failed")
		return
	}
	m.metrics.Deliveries.WithLabelValues(metrics.DeliverySent).Inc()
}

// enqueue hands d to the dispatcher without blocking. It reports false
// when the queue is full or closed and d was dropped.
func (m *Monitor) enqueue(d models.Delivery) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.outbox <- d:
		m.metrics.QueueDepth.Set(float64(len(m.outbox)))
		return true
	default:
		return false
	}
}

// Tick evaluates every account and queues the resulting deliveries. A
// delivery dropped on a full queue starts no cooldown window, so its
// breach is reported again on the next tick.
func (m *Monitor) Tick(ctx context.Context) []AccountReport {
	reports := m.Evaluate(ctx)

	m.setState(StateReporting)
	for _, r := range reports {
		for _, d := range r.Deliveries {
			if m.enqueue(d) {
				m.cooldown.Record(d.Breach, d.CreatedAt)
			} else {
				m.metrics.Deliveries.WithLabelValues(metrics.DeliveryDropped).Inc()
				logger := logging.WithAccount(m.logger, d.AccountID)
				logger.Warn().
					Str("delivery", d.ID).
					Str("metric", string(d.Breach.Metric)).
					Msg("Delivery queue full, dropping delivery")
			}
		}
	}
	m.setState(StateIdle)
	return reports
}

// Flush delivers reports synchronously, bypassing the queue. Only
// delivered breaches start a cooldown window. It returns the joined
// delivery errors.
func (m *Monitor) Flush(ctx context.Context, reports []AccountReport) error {
	var errs []error
	for _, r := range reports {
		for _, d := range r.Deliveries {
			dctx, cancel := context.WithTimeout(ctx, m.cfg.NotifyTimeout)
			err := m.deps.Notifier.Deliver(dctx, d)
			cancel()
			if err != nil {
				m.metrics.Deliveries.WithLabelValues(metrics.DeliveryFailed).Inc()
				errs = append(errs, fmt.Errorf("%s: %w", d.AccountID, err))
				continue
			}
			m.cooldown.Record(d.Breach, d.CreatedAt)
			m.metrics.Deliveries.WithLabelValues(metrics.DeliverySent).Inc()
		}
	}
	return errors.Join(errs...)
}

// Evaluate runs one evaluation of every account without queueing
// deliveries or starting cooldown windows. Accounts are evaluated concurrently; the failure of one
// never affects the others. Reports are ordered by account.
func (m *Monitor) Evaluate(ctx context.Context) []AccountReport {
	start := time.Now()
	m.setState(StateEvaluating)

	// Oracle, store and strategy I/O are bounded by their own timeouts,
	// so a tick that has started always completes.
	ioCtx := context.WithoutCancel(ctx)
	now := m.now()
	m.cooldown.Prune(now)

	p := pool.NewWithResults[AccountReport]().WithMaxGoroutines(m.cfg.MaxParallel)
	for _, id := range m.deps.Book.Accounts() {
		id := id
		p.Go(func() AccountReport {
			return m.evaluateSafely(ioCtx, id, now)
		})
	}
	reports := p.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].AccountID < reports[j].AccountID })

	for _, r := range reports {
		if r.Err != nil {
			m.metrics.AccountFailures.Inc()
		}
	}
	m.metrics.Ticks.Inc()
	m.metrics.TickDuration.Observe(time.Since(start).Seconds())
	m.lastTick.Store(time.Now().UnixNano())
	return reports
}

// evaluateSafely turns a panic in one account's evaluation into an error
// on its report.
func (m *Monitor) evaluateSafely(ctx context.Context, accountID string, now time.Time) AccountReport {
	var report AccountReport
	var pc panics.Catcher
	pc.Try(func() {
		report = m.evaluateAccount(ctx, accountID, now)
	})
	if r := pc.Recovered(); r != nil {
		report = AccountReport{AccountID: accountID, Err: r.AsError()}
		logger := logging.WithAccount(m.logger, accountID)
		logger.Error().Err(report.Err).Msg("Account evaluation panicked")
	}
	return report
}

func (m *Monitor) evaluateAccount(ctx context.Context, accountID string, now time.Time) AccountReport {
	report := AccountReport{AccountID: accountID}
	logger := logging.WithAccount(m.logger, accountID)

	pf, ok := m.deps.Book.Lookup(accountID)
	if !ok {
		report.Err = errors.Wrapf(errors.ErrPositionNotFound, "account %s", accountID)
		return report
	}

	thresholds, err := m.deps.Thresholds.GetThresholds(ctx, accountID)
	if err != nil {
		report.Err = errors.Wrapf(err, "loading thresholds for %s", accountID)
		logger.Error().Err(err).Msg("Threshold lookup failed")
		return report
	}

	mctx, cancel := context.WithTimeout(ctx, m.cfg.OracleTimeout)
	report.Warnings = pf.MarkToMarket(mctx, m.deps.Oracle)
	cancel()
	for _, w := range report.Warnings {
		m.metrics.StalePrices.Inc()
		logging.LogStalePrice(logger, accountID, w.Symbol, w.Err)
	}

	report.Summary = pf.AggregateExposure(now)
	breaches := risk.Evaluate(report.Summary, thresholds)
	for _, b := range breaches {
		m.metrics.Breaches.WithLabelValues(string(b.Metric)).Inc()
	}

	report.Breaches, report.Suppressed = m.cooldown.Filter(breaches, now)
	if report.Suppressed > 0 {
		m.metrics.SuppressedBreaches.Add(float64(report.Suppressed))
		logger.Debug().Int("suppressed", report.Suppressed).Msg("Breaches within cooldown")
	}
	if len(report.Breaches) == 0 {
		return report
	}

	report.Strategy = m.strategyFor(ctx, accountID)
	warnings := make([]string, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warnings = append(warnings, w.Error())
	}

	for _, b := range report.Breaches {
		logging.LogBreach(logger, b)

		summary := report.Summary
		d := models.Delivery{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Breach:    b,
			Warnings:  warnings,
			Summary:   &summary,
			CreatedAt: now,
		}

		rec, err := m.recommend(ctx, b, report.Summary, report.Strategy)
		if err != nil {
			d.Reason = err.Error()
			m.metrics.Recommendations.WithLabelValues(report.Strategy, "failed").Inc()
			sl := logging.WithStrategy(logger, report.Strategy)
			sl.Warn().Err(err).
				Str("metric", string(b.Metric)).
				Msg("No hedge recommendation")
		} else {
			rec.ID = uuid.NewString()
			d.Recommendation = rec
			m.metrics.Recommendations.WithLabelValues(rec.Strategy, "ok").Inc()
			logging.LogRecommendation(logger, rec)
		}
		report.Deliveries = append(report.Deliveries, d)
	}
	return report
}

// recommend prices the account's strategy for a breach.
func (m *Monitor) recommend(ctx context.Context, b models.Breach, summary models.ExposureSummary, name string) (*models.HedgeRecommendation, error) {
	underlying, err := strategy.Target(b, summary)
	if err != nil {
		return nil, err
	}

	mctx, cancel := context.WithTimeout(ctx, m.cfg.OracleTimeout)
	state := m.deps.Engine.MarketFor(mctx, summary, underlying, m.deps.Oracle)
	cancel()

	return m.deps.Engine.Recommend(b, summary, state, name)
}

// strategyFor resolves an account's strategy: the stored setting, then
// the configured per-account default, then the global default.
func (m *Monitor) strategyFor(ctx context.Context, accountID string) string {
	if m.deps.Settings != nil {
		s, err := m.deps.Settings.DefaultStrategy(ctx, accountID)
		if err != nil {
			logger := logging.WithAccount(m.logger, accountID)
			logger.Warn().Err(err).Msg("Account settings unavailable, using configured strategy")
		} else if s != "" && strategy.ValidName(s) {
			return strategy.Normalize(s)
		}
	}
	if s, ok := m.cfg.AccountStrategies[accountID]; ok && strategy.ValidName(s) {
		return strategy.Normalize(s)
	}
	return strategy.Normalize(m.cfg.DefaultStrategy)
}
