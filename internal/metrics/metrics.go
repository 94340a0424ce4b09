// Package metrics exposes Prometheus collectors for the monitor loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "hedger"

// Delivery outcomes.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryDropped = "dropped"
)

// Metrics holds the collectors of one monitor. Each instance owns its
// registry, so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Ticks              prometheus.Counter
	TickDuration       prometheus.Histogram
	AccountFailures    prometheus.Counter
	Breaches           *prometheus.CounterVec
	SuppressedBreaches prometheus.Counter
	Recommendations    *prometheus.CounterVec
	StalePrices        prometheus.Counter
	OracleFailures     prometheus.Counter
	Deliveries         *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	State              *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation ticks completed.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time to evaluate every account in a tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		AccountFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_failures_total",
			Help:      "Account evaluations that failed.",
		}),
		Breaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaches_total",
			Help:      "Threshold breaches detected, by metric.",
		}, []string{"metric"}),
		SuppressedBreaches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaches_suppressed_total",
			Help:      "Breaches suppressed by the alert cooldown.",
		}),
		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Hedge recommendations, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		StalePrices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_prices_total",
			Help:      "Positions left at their last known price.",
		}),
		OracleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_failures_total",
			Help:      "Failed price lookups after retries.",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification deliveries, by outcome.",
		}, []string{"outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Deliveries waiting for the dispatcher.",
		}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_state",
			Help:      "1 for the current monitor state.",
		}, []string{"state"}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetState marks state as current and clears the others.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Route mounts an extra handler next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Serve exposes /metrics and any extra routes on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger, routes ...Route) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
