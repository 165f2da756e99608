package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trade execution pipeline configuration

[sizing]
method = "equal_weight"        # equal_weight, risk_parity, or a registered strategy name
max_position_size = 0.1        # fraction of portfolio value per position
min_position_size = 0.01       # proposals below this fraction are dropped
signal_deadband = 0.05         # |strength| below this produces no trade
learning_rate = 0.1
adaptation_period = 20

[risk]
max_portfolio_risk = 0.15
max_position_risk = 0.05
var_limit = 0.1
max_iterations = 10
resize_threshold = 0.5         # floor scale factor per resize step
on_non_convergence = "proceed" # proceed or abort

[correlation]
max_correlation = 0.7
adjustment_factor = 0.5

[execution]
default_order_type = "MARKET"  # LIMIT, MARKET, STOP_LIMIT, STOP_MARKET
time_in_force = "DAY"          # DAY, GTC, IOC, FOK
price_threshold = 0.01         # limit price offset when impact-capped
market_impact_limit = 10000.0
default_impact_coefficient = 1.0

[store]
enabled = false
# path = "~/.config/tradepipeline/pipeline.db"

[logging]
level = "info"
console = true
file = false
`

// createTemplateConfig writes a commented template config file so a first run
// leaves something editable behind.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
