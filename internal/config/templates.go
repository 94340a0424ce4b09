package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Spot Hedger Configuration

[monitor]
# Time between evaluation ticks
interval = "30s"
# Suppress repeat alerts for the same breach within this window
cooldown = "5m"
# Bound on price lookups and notification delivery
oracle_timeout = "5s"
notify_timeout = "10s"
# Accounts evaluated concurrently per tick
max_parallel = 8
# Pending deliveries; further deliveries are dropped while full
queue_size = 256

[market]
# TOML price file with a [prices] table, reloaded on change
prices_file = "prices.toml"
retry_attempts = 3
# Consecutive failures before a symbol's circuit opens
failure_threshold = 5
breaker_timeout = "30s"

[risk]
# Annual risk-free rate used for option Greeks and hedge pricing
risk_free_rate = 0.0

# Thresholds seeded into the store at startup. Omit instrument for a
# portfolio-wide limit. Metrics: delta, gamma, theta, vega, rho, value
# [[risk.thresholds]]
# account = "alice"
# metric = "delta"
# limit = 10.0

[portfolio]
allow_multiple_lots = true
max_positions_per_account = 50
# TOML file with [[positions]] entries
positions_file = "positions.toml"

[strategy]
# delta_neutral, protective_put, collar or auto (cheapest applicable)
default = "delta_neutral"
# Put strike as a fraction of spot
protection_level = 0.95
# Call strike above spot for collars, as a fraction
cap_level = 0.10
# Trading fee on delta-neutral notional
fee_rate = 0.001
# Reject option hedges costing more than this fraction of notional (0 = off)
max_cost_ratio = 0.0
hedge_tenor_days = 30

# Fallback implied volatility per underlying
[strategy.implied_vols]
# BTC = 0.60

# Delta-neutral hedge instrument per underlying (default: the underlying)
# [strategy.hedge_instruments.BTC]
# symbol = "BTC-PERP"
# unit_delta = 1.0

# Per-account default strategy
# [[strategy.accounts]]
# account = "alice"
# strategy = "collar"

[notifications]
enabled = false

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[logging]
level = "info"
console = true
file = false

[store]
# SQLite database for thresholds, account settings and the alert journal.
# Leave empty to keep thresholds in memory.
path = "hedger.db"

[metrics]
enabled = false
addr = ":9108"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
