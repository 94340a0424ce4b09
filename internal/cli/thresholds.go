package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/store"
	"spot-hedger/internal/strategy"
	"spot-hedger/pkg/utils"
)

func addThresholdCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newThresholdCmd(app))
	rootCmd.AddCommand(newAccountCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newThresholdCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threshold",
		Aliases: []string{"thresholds"},
		Short:   "Manage risk thresholds",
		Long: `Risk thresholds bound the absolute value of an exposure metric.
A threshold without an instrument applies to the whole portfolio.

Metrics: delta, gamma, theta, vega, rho, value`,
	}

	var instrument string
	set := &cobra.Command{
		Use:     "set <account> <metric> <limit>",
		Short:   "Create or replace a threshold",
		Example: "  hedger threshold set alice delta 10\n  hedger threshold set alice vega 500 --instrument BTC",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			metric, err := models.ParseMetric(args[1])
			if err != nil {
				return err
			}
			limit, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return errors.NewValidationError("limit", args[2], "must be a number")
			}

			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			t := models.RiskThreshold{AccountID: args[0], Instrument: instrument, Metric: metric, Limit: limit}
			if err := st.SetThreshold(cmd.Context(), t); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(thresholdView(t))
			}
			output.Success("✓ %s %s %s limit %s", t.AccountID, scopeOf(instrument), metric, utils.FormatGreek(limit))
			return nil
		},
	}
	set.Flags().StringVar(&instrument, "instrument", "", "instrument or underlying symbol (default: portfolio)")

	var removeInstrument string
	remove := &cobra.Command{
		Use:     "remove <account> <metric>",
		Aliases: []string{"rm"},
		Short:   "Remove a threshold",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			metric, err := models.ParseMetric(args[1])
			if err != nil {
				return err
			}
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.RemoveThreshold(cmd.Context(), args[0], removeInstrument, metric); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("✓ Removed %s %s %s", args[0], scopeOf(removeInstrument), metric)
			}
			return nil
		},
	}
	remove.Flags().StringVar(&removeInstrument, "instrument", "", "instrument or underlying symbol (default: portfolio)")

	list := &cobra.Command{
		Use:   "list [account]",
		Short: "List thresholds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}

			var thresholds []models.RiskThreshold
			if len(args) == 1 {
				thresholds, err = st.GetThresholds(cmd.Context(), args[0])
			} else {
				thresholds, err = st.ListThresholds(cmd.Context())
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				views := make([]map[string]interface{}, 0, len(thresholds))
				for _, t := range thresholds {
					views = append(views, thresholdView(t))
				}
				return output.JSON(views)
			}
			if len(thresholds) == 0 {
				output.Dim("No thresholds")
				return nil
			}
			table := NewTable(output, "ACCOUNT", "SCOPE", "METRIC", "LIMIT")
			for _, t := range thresholds {
				table.AddRow(t.AccountID, scopeOf(t.Instrument), string(t.Metric), utils.FormatGreek(t.Limit))
			}
			table.Render()
			return nil
		},
	}

	cmd.AddCommand(set, remove, list)
	return cmd
}

func thresholdView(t models.RiskThreshold) map[string]interface{} {
	return map[string]interface{}{
		"account":    t.AccountID,
		"instrument": t.Instrument,
		"metric":     t.Metric,
		"limit":      t.Limit,
	}
}

func scopeOf(instrument string) string {
	if instrument == "" {
		return "portfolio"
	}
	return models.NormalizeSymbol(instrument)
}

func newAccountCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts with positions or settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			book, err := app.Config.LoadBook()
			if err != nil {
				return err
			}
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			stored, err := st.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			seen := make(map[string]bool)
			var accounts []string
			for _, id := range append(book.Accounts(), stored...) {
				if !seen[id] {
					seen[id] = true
					accounts = append(accounts, id)
				}
			}

			configured := app.Config.AccountStrategies()
			type row struct {
				Account   string `json:"account"`
				Positions int    `json:"positions"`
				Strategy  string `json:"strategy"`
			}
			rows := make([]row, 0, len(accounts))
			for _, id := range accounts {
				r := row{Account: id, Strategy: app.Config.Strategy.Default}
				if pf, ok := book.Lookup(id); ok {
					r.Positions = len(pf.Positions())
				}
				if s, ok := configured[id]; ok {
					r.Strategy = strategy.Normalize(s)
				}
				if s, err := st.DefaultStrategy(cmd.Context(), id); err == nil && s != "" {
					r.Strategy = s
				}
				rows = append(rows, r)
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			table := NewTable(output, "ACCOUNT", "POSITIONS", "STRATEGY")
			for _, r := range rows {
				table.AddRow(r.Account, strconv.Itoa(r.Positions), r.Strategy)
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "strategy <account> [strategy]",
		Short: "Show or set an account's default hedge strategy",
		Long: fmt.Sprintf(`Show or set the strategy used for an account's breaches.
A stored setting takes precedence over the configuration file.

Strategies: %v`, strategy.Names()),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 2 {
				if !strategy.ValidName(args[1]) {
					return errors.NewValidationError("strategy", args[1], "unknown strategy")
				}
				name := strategy.Normalize(args[1])
				if err := st.SetDefaultStrategy(cmd.Context(), args[0], name); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"account": args[0], "strategy": name})
				}
				output.Success("✓ %s uses %s", args[0], name)
				return nil
			}

			name, err := st.DefaultStrategy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			source := "stored"
			if name == "" {
				name, source = app.Config.Strategy.Default, "default"
				if s, ok := app.Config.AccountStrategies()[args[0]]; ok {
					name, source = strategy.Normalize(s), "config"
				}
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"account": args[0], "strategy": name, "source": source})
			}
			output.Printf("%s: %s (%s)\n", args[0], name, source)
			return nil
		},
	})

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var account string
	var since time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the alert journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}

			filter := store.HistoryFilter{AccountID: account, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			entries, err := st.History(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("No alerts recorded")
				return nil
			}
			table := NewTable(output, "TIME", "ACCOUNT", "SCOPE", "METRIC", "OBSERVED", "LIMIT", "STRATEGY", "COST")
			for _, e := range entries {
				strat, cost := "-", "-"
				if e.Strategy != "" {
					strat, cost = e.Strategy, utils.FormatCurrency(e.EstimatedCost)
				}
				table.AddRow(
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.AccountID,
					scopeOf(e.Instrument),
					string(e.Metric),
					utils.FormatGreek(e.Observed),
					utils.FormatGreek(e.Limit),
					strat,
					cost,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "only this account")
	cmd.Flags().DurationVar(&since, "since", 0, "only alerts newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}
