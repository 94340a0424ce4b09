// Package cli provides the command-line interface of the hedger.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spot-hedger/internal/config"
	"spot-hedger/internal/logging"
	"spot-hedger/internal/security"
	"spot-hedger/internal/store"
	"spot-hedger/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store store.DataStore
}

// NewRootCmd creates the root command for the CLI. Logs go to logOut
// until the configuration has been loaded.
func NewRootCmd(logOut io.Writer) *cobra.Command {
	app := &App{
		Logger: logging.New(logging.LogConfig{Level: "info", Console: true, Out: logOut}),
	}

	rootCmd := &cobra.Command{
		Use:   "hedger",
		Short: "Spot and options risk monitor with hedge recommendations",
		Long: `hedger watches spot and option positions across accounts, aggregates
their Greeks and alerts when an exposure breaches its threshold, together
with a priced hedge: delta-neutral spot, protective puts or collars.

Use 'hedger evaluate' for a one-off check and 'hedger monitor' to watch
continuously.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg

			lc := logConfig(cfg.Logging)
			lc.Out = logOut
			app.Logger = logging.New(lc)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/spot-hedger)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addMonitorCommands(rootCmd, app)
	addPricingCommands(rootCmd, app)
	addThresholdCommands(rootCmd, app)

	return rootCmd
}

func logConfig(c config.LoggingConfig) logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Level,
		Console:    c.Console,
		File:       c.File,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// Store opens the configured store on first use. An empty store is seeded
// with the thresholds from the configuration file.
func (a *App) Store(ctx context.Context) (store.DataStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	var s store.DataStore
	if path := a.Config.Store.Path; path == "" {
		s = store.NewMemoryStore()
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		sqlite, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		s = sqlite
	}

	existing, err := s.ListThresholds(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if len(existing) == 0 {
		if err := store.Seed(ctx, s, a.Config.Thresholds()); err != nil {
			s.Close()
			return nil, err
		}
		a.Logger.Debug().Int("thresholds", len(a.Config.Risk.Thresholds)).Msg("Seeded thresholds from config")
	}

	a.store = s
	return s, nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("spot-hedger v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := redacted(app.Config)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.Path(app.Config.Dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and position files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			book, err := app.Config.LoadBook()
			if err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true, "accounts": len(book.Accounts())})
			}
			output.Success("✓ Configuration is valid (%d accounts)", len(book.Accounts()))
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with notification secrets masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	c.Notifications.Webhook.URL = security.MaskURL(c.Notifications.Webhook.URL)
	c.Notifications.Telegram.BotToken = security.MaskCredential(c.Notifications.Telegram.BotToken)
	return &c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Monitor")
	output.Printf("  Interval:        %s\n", cfg.Monitor.Interval)
	output.Printf("  Cooldown:        %s\n", cfg.Monitor.Cooldown)
	output.Printf("  Max parallel:    %d\n", cfg.Monitor.MaxParallel)
	output.Printf("  Queue size:      %d\n", cfg.Monitor.QueueSize)
	output.Println()

	output.Bold("Market")
	output.Printf("  Prices file:     %s\n", cfg.Market.PricesFile)
	output.Printf("  Retry attempts:  %d\n", cfg.Market.RetryAttempts)
	output.Printf("  Breaker:         %d failures, %s open\n", cfg.Market.FailureThreshold, cfg.Market.BreakerTimeout)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk-free rate:  %s\n", utils.FormatPercent(cfg.Risk.RiskFreeRate*100))
	output.Printf("  Thresholds:      %d\n", len(cfg.Risk.Thresholds))
	output.Println()

	output.Bold("Strategy")
	output.Printf("  Default:         %s\n", cfg.Strategy.Default)
	output.Printf("  Protection:      %.0f%% of spot\n", cfg.Strategy.ProtectionLevel*100)
	output.Printf("  Collar cap:      +%.0f%%\n", cfg.Strategy.CapLevel*100)
	output.Printf("  Fee rate:        %s\n", utils.FormatPercent(cfg.Strategy.FeeRate*100))
	output.Printf("  Tenor:           %d days\n", cfg.Strategy.HedgeTenorDays)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Webhook:         %v %s\n", cfg.Notifications.Webhook.Enabled, cfg.Notifications.Webhook.URL)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Println()

	output.Bold("Storage")
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = "(memory)"
	}
	output.Printf("  Store:           %s\n", storePath)
	output.Printf("  Positions:       %s\n", cfg.Portfolio.PositionsFile)
	if cfg.Metrics.Enabled {
		output.Printf("  Metrics:         %s\n", cfg.Metrics.Addr)
	}
}
