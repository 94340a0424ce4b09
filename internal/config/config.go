// Package config provides configuration management for the hedger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/portfolio"
	"spot-hedger/internal/risk"
	"spot-hedger/internal/strategy"
)

// EnvPrefix prefixes environment overrides, e.g. HEDGER_MONITOR_INTERVAL.
const EnvPrefix = "HEDGER"

// Config holds all application configuration.
type Config struct {
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Market        MarketConfig       `mapstructure:"market"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Portfolio     PortfolioConfig    `mapstructure:"portfolio"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Store         StoreConfig        `mapstructure:"store"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// MonitorConfig holds the evaluation loop configuration.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// MarketConfig holds price source configuration.
type MarketConfig struct {
	PricesFile       string        `mapstructure:"prices_file"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// RiskConfig holds risk configuration.
type RiskConfig struct {
	RiskFreeRate float64           `mapstructure:"risk_free_rate"`
	Thresholds   []ThresholdConfig `mapstructure:"thresholds"`
}

// ThresholdConfig seeds one risk threshold.
type ThresholdConfig struct {
	Account    string  `mapstructure:"account"`
	Instrument string  `mapstructure:"instrument"`
	Metric     string  `mapstructure:"metric"`
	Limit      float64 `mapstructure:"limit"`
}

// PortfolioConfig holds lot policy configuration.
type PortfolioConfig struct {
	AllowMultipleLots      bool   `mapstructure:"allow_multiple_lots"`
	MaxPositionsPerAccount int    `mapstructure:"max_positions_per_account"`
	PositionsFile          string `mapstructure:"positions_file"`
}

// StrategyConfig holds hedge pricing configuration.
type StrategyConfig struct {
	Default          string                           `mapstructure:"default"`
	ProtectionLevel  float64                          `mapstructure:"protection_level"`
	CapLevel         float64                          `mapstructure:"cap_level"`
	FeeRate          float64                          `mapstructure:"fee_rate"`
	MaxCostRatio     float64                          `mapstructure:"max_cost_ratio"`
	HedgeTenorDays   int                              `mapstructure:"hedge_tenor_days"`
	ImpliedVols      map[string]float64               `mapstructure:"implied_vols"`
	HedgeInstruments map[string]HedgeInstrumentConfig `mapstructure:"hedge_instruments"`
	Accounts         []AccountStrategyConfig          `mapstructure:"accounts"`
}

// HedgeInstrumentConfig overrides the delta-neutral hedge of an underlying.
type HedgeInstrumentConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	UnitDelta float64 `mapstructure:"unit_delta"`
}

// AccountStrategyConfig sets the default strategy of one account.
type AccountStrategyConfig struct {
	Account  string `mapstructure:"account"`
	Strategy string `mapstructure:"strategy"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// StoreConfig holds persistence configuration. An empty path keeps
// thresholds in memory.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/spot-hedger"
	}
	return filepath.Join(home, ".config", "spot-hedger")
}

// Path returns the path of the main config file in configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// setDefaults registers every key so that env overrides apply to all of them.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.cooldown", "5m")
	v.SetDefault("monitor.oracle_timeout", "5s")
	v.SetDefault("monitor.notify_timeout", "10s")
	v.SetDefault("monitor.max_parallel", 8)
	v.SetDefault("monitor.queue_size", 256)

	v.SetDefault("market.prices_file", filepath.Join(configDir, "prices.toml"))
	v.SetDefault("market.retry_attempts", 3)
	v.SetDefault("market.failure_threshold", 5)
	v.SetDefault("market.breaker_timeout", "30s")

	v.SetDefault("risk.risk_free_rate", 0.0)

	v.SetDefault("portfolio.allow_multiple_lots", true)
	v.SetDefault("portfolio.max_positions_per_account", 50)
	v.SetDefault("portfolio.positions_file", filepath.Join(configDir, "positions.toml"))

	v.SetDefault("strategy.default", strategy.DeltaNeutral)
	v.SetDefault("strategy.protection_level", 0.95)
	v.SetDefault("strategy.cap_level", 0.10)
	v.SetDefault("strategy.fee_rate", 0.001)
	v.SetDefault("strategy.max_cost_ratio", 0.0)
	v.SetDefault("strategy.hedge_tenor_days", 30)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.chat_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "hedger.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("store.path", filepath.Join(configDir, "hedger.db"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config file is replaced by the template and loaded.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{Dir: configDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	cfg.normalize()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// normalize upper-cases symbol keys, which viper lower-cases, and resolves
// relative paths against the config directory.
func (c *Config) normalize() {
	vols := make(map[string]float64, len(c.Strategy.ImpliedVols))
	for sym, iv := range c.Strategy.ImpliedVols {
		vols[models.NormalizeSymbol(sym)] = iv
	}
	c.Strategy.ImpliedVols = vols

	hedges := make(map[string]HedgeInstrumentConfig, len(c.Strategy.HedgeInstruments))
	for sym, h := range c.Strategy.HedgeInstruments {
		h.Symbol = models.NormalizeSymbol(h.Symbol)
		hedges[models.NormalizeSymbol(sym)] = h
	}
	c.Strategy.HedgeInstruments = hedges

	c.Market.PricesFile = c.resolve(c.Market.PricesFile)
	c.Portfolio.PositionsFile = c.resolve(c.Portfolio.PositionsFile)
	c.Store.Path = c.resolve(c.Store.Path)
	c.Logging.FilePath = c.resolve(c.Logging.FilePath)

	c.Strategy.Default = strategy.Normalize(c.Strategy.Default)
	for i := range c.Strategy.Accounts {
		c.Strategy.Accounts[i].Strategy = strategy.Normalize(c.Strategy.Accounts[i].Strategy)
	}
}

// resolve makes a file path relative to the config directory absolute.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// applyEnvOverrides applies short aliases for secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEDGER_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("HEDGER_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("HEDGER_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

// Validate validates the configuration. Every problem is reported, joined
// with errors.ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, errors.NewValidationError(field, value, msg))
	}

	if c.Monitor.Interval <= 0 {
		add("monitor.interval", c.Monitor.Interval, "must be positive")
	}
	if c.Monitor.Cooldown < 0 {
		add("monitor.cooldown", c.Monitor.Cooldown, "cannot be negative")
	}
	if c.Monitor.OracleTimeout <= 0 {
		add("monitor.oracle_timeout", c.Monitor.OracleTimeout, "must be positive")
	}
	if c.Monitor.NotifyTimeout <= 0 {
		add("monitor.notify_timeout", c.Monitor.NotifyTimeout, "must be positive")
	}
	if c.Monitor.MaxParallel < 1 {
		add("monitor.max_parallel", c.Monitor.MaxParallel, "must be at least 1")
	}
	if c.Monitor.QueueSize < 1 {
		add("monitor.queue_size", c.Monitor.QueueSize, "must be at least 1")
	}
	if c.Market.RetryAttempts < 1 {
		add("market.retry_attempts", c.Market.RetryAttempts, "must be at least 1")
	}
	if c.Portfolio.MaxPositionsPerAccount < 0 {
		add("portfolio.max_positions_per_account", c.Portfolio.MaxPositionsPerAccount, "cannot be negative")
	}

	if !strategy.ValidName(c.Strategy.Default) {
		add("strategy.default", c.Strategy.Default, "unknown strategy")
	}
	for i, a := range c.Strategy.Accounts {
		if strings.TrimSpace(a.Account) == "" {
			add(fmt.Sprintf("strategy.accounts[%d].account", i), a.Account, "account is required")
		}
		if !strategy.ValidName(a.Strategy) {
			add(fmt.Sprintf("strategy.accounts[%d].strategy", i), a.Strategy, "unknown strategy")
		}
	}
	if err := c.StrategyConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := risk.ValidateThresholds(c.Thresholds()); err != nil {
		errs = append(errs, err)
	}

	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		add("notifications.webhook.url", "", "required when the webhook is enabled")
	}
	if c.Notifications.Telegram.Enabled && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		add("notifications.telegram", "", "bot_token and chat_id are required when telegram is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr", "", "required when metrics are enabled")
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{errors.ErrConfigInvalid}, errs...)...)
	}
	return nil
}

// Thresholds returns the seeded thresholds as models.
func (c *Config) Thresholds() []models.RiskThreshold {
	out := make([]models.RiskThreshold, 0, len(c.Risk.Thresholds))
	for _, t := range c.Risk.Thresholds {
		out = append(out, models.RiskThreshold{
			AccountID:  strings.TrimSpace(t.Account),
			Instrument: models.NormalizeSymbol(t.Instrument),
			Metric:     models.Metric(strings.ToLower(strings.TrimSpace(t.Metric))),
			Limit:      t.Limit,
		})
	}
	return out
}

// StrategyConfig converts the strategy section into engine parameters.
func (c *Config) StrategyConfig() strategy.Config {
	cfg := strategy.Config{
		ProtectionLevel: c.Strategy.ProtectionLevel,
		CapLevel:        c.Strategy.CapLevel,
		FeeRate:         c.Strategy.FeeRate,
		HedgeTenor:      time.Duration(c.Strategy.HedgeTenorDays) * 24 * time.Hour,
		RiskFreeRate:    c.Risk.RiskFreeRate,
		MaxCostRatio:    c.Strategy.MaxCostRatio,
		ImpliedVols:     c.Strategy.ImpliedVols,
	}
	if len(c.Strategy.HedgeInstruments) > 0 {
		cfg.HedgeInstruments = make(map[string]strategy.HedgeInstrument, len(c.Strategy.HedgeInstruments))
		for under, h := range c.Strategy.HedgeInstruments {
			cfg.HedgeInstruments[under] = strategy.HedgeInstrument{Symbol: h.Symbol, UnitDelta: h.UnitDelta}
		}
	}
	return cfg
}

// LotPolicy returns the portfolio lot policy.
func (c *Config) LotPolicy() portfolio.LotPolicy {
	return portfolio.LotPolicy{
		AllowMultipleLots: c.Portfolio.AllowMultipleLots,
		MaxPositions:      c.Portfolio.MaxPositionsPerAccount,
	}
}

// AccountStrategies returns the configured default strategy per account.
func (c *Config) AccountStrategies() map[string]string {
	out := make(map[string]string, len(c.Strategy.Accounts))
	for _, a := range c.Strategy.Accounts {
		out[strings.TrimSpace(a.Account)] = a.Strategy
	}
	return out
}
