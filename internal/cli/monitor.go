package cli

import (
	"context"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"spot-hedger/internal/config"
	"spot-hedger/internal/market"
	"spot-hedger/internal/metrics"
	"spot-hedger/internal/models"
	"spot-hedger/internal/monitor"
	"spot-hedger/internal/notify"
	"spot-hedger/internal/resilience"
	"spot-hedger/internal/risk"
	"spot-hedger/internal/strategy"
	"spot-hedger/pkg/utils"
)

func addMonitorCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newEvaluateCmd(app))
}

// monitorOptions are command-line overrides of the monitor configuration.
type monitorOptions struct {
	interval  time.Duration
	strategy  string
	terminal  bool
	noMetrics bool
}

// buildMonitor wires the monitor from the loaded configuration. Terminal
// deliveries are printed to out when it is non-nil. The returned health
// checker covers the monitor, the store and the price circuits.
func buildMonitor(ctx context.Context, app *App, opts monitorOptions, out *Output) (*monitor.Monitor, *resilience.Health, error) {
	cfg := app.Config
	logger := app.Logger

	book, err := cfg.LoadBook()
	if err != nil {
		return nil, nil, err
	}
	st, err := app.Store(ctx)
	if err != nil {
		return nil, nil, err
	}

	met := metrics.New()
	oracle, err := newOracle(cfg, app, met)
	if err != nil {
		return nil, nil, err
	}

	engine, err := strategy.NewEngine(cfg.StrategyConfig())
	if err != nil {
		return nil, nil, err
	}

	notifier := notify.NewMultiNotifier(cfg.Notifications)
	notifier.AddChannel(notify.NewLogNotifier(logger))
	notifier.AddChannel(notify.NewJournalNotifier(st))
	if out != nil && opts.terminal {
		notifier.AddChannel(notify.NewTerminalNotifier(out.Writer(), out.ColorEnabled()))
	}
	logger.Debug().Strs("channels", notifier.Channels()).Msg("Notification channels")

	mcfg := monitor.Config{
		Interval:          cfg.Monitor.Interval,
		Cooldown:          cfg.Monitor.Cooldown,
		OracleTimeout:     cfg.Monitor.OracleTimeout,
		NotifyTimeout:     cfg.Monitor.NotifyTimeout,
		MaxParallel:       cfg.Monitor.MaxParallel,
		QueueSize:         cfg.Monitor.QueueSize,
		DefaultStrategy:   cfg.Strategy.Default,
		AccountStrategies: cfg.AccountStrategies(),
	}
	if opts.interval > 0 {
		mcfg.Interval = opts.interval
	}
	if opts.strategy != "" {
		mcfg.DefaultStrategy = opts.strategy
	}

	m, err := monitor.New(mcfg, monitor.Deps{
		Book:       book,
		Thresholds: st,
		Settings:   st,
		Oracle:     oracle,
		Engine:     engine,
		Notifier:   notifier,
		Metrics:    met,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}

	health := resilience.NewHealth(cfg.Monitor.OracleTimeout)
	health.RegisterComponent("monitor", resilience.HeartbeatCheck(
		m.LastTick,
		3*mcfg.Interval,
		func() bool { return m.State() == monitor.StateStopped },
	))
	health.RegisterComponent("store", resilience.PingCheck(func(ctx context.Context) error {
		_, err := st.ListAccounts(ctx)
		return err
	}))
	health.RegisterComponent("prices", resilience.BreakerCheck(oracle.BreakerStats))
	return m, health, nil
}

// newOracle reads prices from the configured file through retries and a
// circuit breaker per symbol.
func newOracle(cfg *config.Config, app *App, met *metrics.Metrics) (*market.ResilientOracle, error) {
	file, err := market.NewFileOracle(cfg.Market.PricesFile, app.Logger)
	if err != nil {
		return nil, err
	}

	rc := market.DefaultResilientConfig()
	rc.Timeout = cfg.Monitor.OracleTimeout
	rc.Retry.MaxAttempts = cfg.Market.RetryAttempts
	rc.Breaker.FailureThreshold = cfg.Market.FailureThreshold
	rc.Breaker.Timeout = cfg.Market.BreakerTimeout

	ro := market.NewResilientOracle(file, rc, app.Logger)
	ro.OnFailure = func(symbol string, err error) {
		met.OracleFailures.Inc()
	}
	return ro, nil
}

func newMonitorCmd(app *App) *cobra.Command {
	var opts monitorOptions

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch every account and alert on threshold breaches",
		Long: `Evaluate every account on a fixed interval. Breaches outside the
cooldown window are delivered with a hedge recommendation to the
terminal, the log, the alert journal and any configured webhook or
Telegram chat.

Stop with Ctrl+C: the tick in progress completes and queued alerts are
delivered before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			output := NewOutput(cmd)
			m, health, err := buildMonitor(ctx, app, opts, output)
			if err != nil {
				return err
			}

			var wg conc.WaitGroup
			if app.Config.Metrics.Enabled && !opts.noMetrics {
				wg.Go(func() {
					if err := m.Metrics().Serve(ctx, app.Config.Metrics.Addr, app.Logger,
						metrics.Route{Pattern: "/healthz", Handler: health.Handler()}); err != nil {
						app.Logger.Error().Err(err).Msg("Metrics endpoint failed")
					}
				})
			}

			if !output.IsJSON() {
				output.Info("Monitoring %s (every %s, Ctrl+C to stop)",
					app.Config.Portfolio.PositionsFile, app.Config.Monitor.Interval)
			}
			err = m.Run(ctx)
			stop()
			wg.Wait()
			return err
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "override the evaluation interval")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "override the default strategy")
	cmd.Flags().BoolVar(&opts.terminal, "terminal", true, "print alerts to the terminal")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "do not serve Prometheus metrics")

	return cmd
}

func newEvaluateCmd(app *App) *cobra.Command {
	var opts monitorOptions
	var send bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every account once and print exposure and breaches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			m, _, err := buildMonitor(ctx, app, opts, nil)
			if err != nil {
				return err
			}
			reports := m.Evaluate(ctx)

			if output.IsJSON() {
				views := make([]reportView, 0, len(reports))
				for _, r := range reports {
					views = append(views, newReportView(r))
				}
				if err := output.JSON(views); err != nil {
					return err
				}
			} else {
				printReports(output, reports)
			}

			if send {
				return m.Flush(ctx, reports)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "override the default strategy")
	cmd.Flags().BoolVar(&send, "notify", false, "deliver breaches to the configured channels")

	return cmd
}

// reportView is the JSON form of an account report.
type reportView struct {
	Account    string                  `json:"account"`
	Strategy   string                  `json:"strategy,omitempty"`
	Exposure   exposureView            `json:"exposure"`
	Excluded   int                     `json:"excluded,omitempty"`
	Suppressed int                     `json:"suppressed,omitempty"`
	Breaches   []breachView            `json:"breaches,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Underlying map[string]exposureView `json:"by_underlying,omitempty"`
}

type exposureView struct {
	Value         float64 `json:"value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Delta         float64 `json:"delta"`
	Gamma         float64 `json:"gamma"`
	Theta         float64 `json:"theta"`
	Vega          float64 `json:"vega"`
	Rho           float64 `json:"rho"`
	Positions     int     `json:"positions"`
}

type breachView struct {
	Scope          string                      `json:"scope"`
	Metric         models.Metric               `json:"metric"`
	Observed       float64                     `json:"observed"`
	Limit          float64                     `json:"limit"`
	Severity       float64                     `json:"severity"`
	Recommendation *models.HedgeRecommendation `json:"recommendation,omitempty"`
	Reason         string                      `json:"reason,omitempty"`
}

func newExposureView(e models.Exposure) exposureView {
	return exposureView{
		Value:         e.Value,
		UnrealizedPnL: e.UnrealizedPnL,
		Delta:         e.Delta,
		Gamma:         e.Gamma,
		Theta:         e.Theta,
		Vega:          e.Vega,
		Rho:           e.Rho,
		Positions:     e.Positions,
	}
}

func newReportView(r monitor.AccountReport) reportView {
	v := reportView{
		Account:    r.AccountID,
		Strategy:   r.Strategy,
		Exposure:   newExposureView(r.Summary.Exposure),
		Excluded:   r.Summary.Excluded,
		Suppressed: r.Suppressed,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	for _, w := range r.Warnings {
		v.Warnings = append(v.Warnings, w.Error())
	}
	if len(r.Summary.ByUnderlying) > 0 {
		v.Underlying = make(map[string]exposureView, len(r.Summary.ByUnderlying))
		for under, e := range r.Summary.ByUnderlying {
			v.Underlying[under] = newExposureView(e)
		}
	}
	for _, d := range r.Deliveries {
		v.Breaches = append(v.Breaches, breachView{
			Scope:          d.Breach.Scope(),
			Metric:         d.Breach.Metric,
			Observed:       d.Breach.Observed,
			Limit:          d.Breach.Limit,
			Severity:       d.Breach.Severity,
			Recommendation: d.Recommendation,
			Reason:         d.Reason,
		})
	}
	return v
}

func printReports(output *Output, reports []monitor.AccountReport) {
	if len(reports) == 0 {
		output.Warning("No positions loaded")
		return
	}

	for i, r := range reports {
		if i > 0 {
			output.Println()
		}
		printReport(output, r)
	}
}

func printReport(output *Output, r monitor.AccountReport) {
	output.Bold("Account %s", r.AccountID)
	if r.Err != nil {
		output.Error("  evaluation failed: %v", r.Err)
		return
	}

	s := r.Summary
	table := NewTable(output, "SCOPE", "VALUE", "P&L", "DELTA", "GAMMA", "THETA/DAY", "VEGA/1%", "RHO/1%")
	addExposureRow(output, table, "portfolio", s.Exposure)
	underlyings := make([]string, 0, len(s.ByUnderlying))
	for under := range s.ByUnderlying {
		underlyings = append(underlyings, under)
	}
	sort.Strings(underlyings)
	for _, under := range underlyings {
		addExposureRow(output, table, under, s.ByUnderlying[under])
	}
	table.Render()

	for _, w := range r.Warnings {
		output.Warning("  ! %v", w)
	}
	if s.Excluded > 0 {
		output.Dim("  %d position(s) excluded for missing prices", s.Excluded)
	}

	if len(r.Deliveries) == 0 {
		if r.Suppressed > 0 {
			output.Dim("  %d breach(es) within cooldown", r.Suppressed)
		} else {
			output.Success("  ✓ Within limits")
		}
		return
	}

	output.Println()
	for _, d := range r.Deliveries {
		b := d.Breach
		urgency := models.UrgencyForSeverity(b.Severity)
		output.Printf("  %s %s\n", output.Urgency(urgency), risk.Describe(b))
		if rec := d.Recommendation; rec != nil {
			output.Printf("    %s: %s\n", rec.Strategy, rec.Reasoning)
			for _, leg := range rec.Legs {
				output.Printf("      %s %s %s @ %s\n", leg.Side, utils.FormatQuantity(leg.Size), leg.Symbol, utils.FormatCurrency(leg.Price))
			}
			output.Printf("    Estimated cost: %s\n", utils.FormatCurrency(rec.EstimatedCost))
		} else {
			output.Printf("    %s %s\n", output.Yellow("no hedge:"), d.Reason)
		}
	}
}

func addExposureRow(output *Output, table *Table, scope string, e models.Exposure) {
	table.AddRow(
		scope,
		utils.FormatCurrency(e.Value),
		output.Signed(e.UnrealizedPnL, utils.FormatPnL(e.UnrealizedPnL)),
		utils.FormatGreek(e.Delta),
		utils.FormatGreek(e.Gamma),
		utils.FormatGreek(e.Theta),
		utils.FormatGreek(e.Vega),
		utils.FormatGreek(e.Rho),
	)
}
