// Package config provides configuration management for the trade execution
// pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"tradepipeline/internal/models"
)

// Config holds all pipeline configuration.
type Config struct {
	Sizing      PositionSizingConfig `mapstructure:"sizing"`
	Risk        RiskManagementConfig `mapstructure:"risk"`
	Correlation CorrelationConfig    `mapstructure:"correlation"`
	Execution   ExecutionRulesConfig `mapstructure:"execution"`
	Store       StoreConfig          `mapstructure:"store"`
	Logging     LoggingConfig        `mapstructure:"logging"`
}

// Built-in sizing method names.
const (
	MethodEqualWeight = "equal_weight"
	MethodRiskParity  = "risk_parity"
)

// PositionSizingConfig holds position sizing stage configuration.
type PositionSizingConfig struct {
	Method           string  `mapstructure:"method"`            // "equal_weight", "risk_parity", or a registered strategy
	MaxPositionSize  float64 `mapstructure:"max_position_size"` // fraction of portfolio value
	MinPositionSize  float64 `mapstructure:"min_position_size"` // fraction of portfolio value
	SignalDeadband   float64 `mapstructure:"signal_deadband"`   // |strength| below this produces no trade
	LearningRate     float64 `mapstructure:"learning_rate"`
	AdaptationPeriod int     `mapstructure:"adaptation_period"` // decisions between adaptation steps
}

// NonConvergencePolicy controls what the orchestrator does when the risk loop
// exhausts its iteration budget.
type NonConvergencePolicy string

const (
	// NonConvergenceProceed proceeds with the best-effort proposal and flags it.
	NonConvergenceProceed NonConvergencePolicy = "proceed"
	// NonConvergenceAbort aborts the cycle with no orders emitted.
	NonConvergenceAbort NonConvergencePolicy = "abort"
)

// RiskManagementConfig holds risk management stage configuration.
type RiskManagementConfig struct {
	MaxPortfolioRisk float64              `mapstructure:"max_portfolio_risk"`
	MaxPositionRisk  float64              `mapstructure:"max_position_risk"`
	VaRLimit         float64              `mapstructure:"var_limit"`
	MaxIterations    int                  `mapstructure:"max_iterations"`
	ResizeThreshold  float64              `mapstructure:"resize_threshold"` // floor scale factor per iteration
	OnNonConvergence NonConvergencePolicy `mapstructure:"on_non_convergence"`
}

// CorrelationConfig holds correlation stage configuration.
type CorrelationConfig struct {
	MaxCorrelation   float64 `mapstructure:"max_correlation"`
	AdjustmentFactor float64 `mapstructure:"adjustment_factor"`
}

// ExecutionRulesConfig holds execution rules stage configuration.
type ExecutionRulesConfig struct {
	DefaultOrderType         models.OrderType   `mapstructure:"default_order_type"`
	TimeInForce              models.TimeInForce `mapstructure:"time_in_force"`
	PriceThreshold           float64            `mapstructure:"price_threshold"` // limit price offset fraction
	MarketImpactLimit        float64            `mapstructure:"market_impact_limit"`
	DefaultImpactCoefficient float64            `mapstructure:"default_impact_coefficient"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradepipeline"
	}
	return filepath.Join(home, ".config", "tradepipeline")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sizing: PositionSizingConfig{
			Method:           "equal_weight",
			MaxPositionSize:  0.1,
			MinPositionSize:  0.01,
			SignalDeadband:   0.05,
			LearningRate:     0.1,
			AdaptationPeriod: 20,
		},
		Risk: RiskManagementConfig{
			MaxPortfolioRisk: 0.15,
			MaxPositionRisk:  0.05,
			VaRLimit:         0.1,
			MaxIterations:    10,
			ResizeThreshold:  0.5,
			OnNonConvergence: NonConvergenceProceed,
		},
		Correlation: CorrelationConfig{
			MaxCorrelation:   0.7,
			AdjustmentFactor: 0.5,
		},
		Execution: ExecutionRulesConfig{
			DefaultOrderType:         models.OrderTypeMarket,
			TimeInForce:              models.TIFDay,
			PriceThreshold:           0.01,
			MarketImpactLimit:        10000,
			DefaultImpactCoefficient: 1.0,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(DefaultConfigDir(), "pipeline.db"),
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Config file not found, write template and continue with defaults
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating template config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("sizing.method", d.Sizing.Method)
	v.SetDefault("sizing.max_position_size", d.Sizing.MaxPositionSize)
	v.SetDefault("sizing.min_position_size", d.Sizing.MinPositionSize)
	v.SetDefault("sizing.signal_deadband", d.Sizing.SignalDeadband)
	v.SetDefault("sizing.learning_rate", d.Sizing.LearningRate)
	v.SetDefault("sizing.adaptation_period", d.Sizing.AdaptationPeriod)

	v.SetDefault("risk.max_portfolio_risk", d.Risk.MaxPortfolioRisk)
	v.SetDefault("risk.max_position_risk", d.Risk.MaxPositionRisk)
	v.SetDefault("risk.var_limit", d.Risk.VaRLimit)
	v.SetDefault("risk.max_iterations", d.Risk.MaxIterations)
	v.SetDefault("risk.resize_threshold", d.Risk.ResizeThreshold)
	v.SetDefault("risk.on_non_convergence", string(d.Risk.OnNonConvergence))

	v.SetDefault("correlation.max_correlation", d.Correlation.MaxCorrelation)
	v.SetDefault("correlation.adjustment_factor", d.Correlation.AdjustmentFactor)

	v.SetDefault("execution.default_order_type", string(d.Execution.DefaultOrderType))
	v.SetDefault("execution.time_in_force", string(d.Execution.TimeInForce))
	v.SetDefault("execution.price_threshold", d.Execution.PriceThreshold)
	v.SetDefault("execution.market_impact_limit", d.Execution.MarketImpactLimit)
	v.SetDefault("execution.default_impact_coefficient", d.Execution.DefaultImpactCoefficient)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIPELINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PIPELINE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Sizing.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Correlation.Validate(); err != nil {
		return err
	}
	return c.Execution.Validate()
}

// Validate checks position sizing parameters.
func (c *PositionSizingConfig) Validate() error {
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return fmt.Errorf("sizing.max_position_size must be in (0, 1], got %f", c.MaxPositionSize)
	}
	if c.MinPositionSize < 0 || c.MinPositionSize > c.MaxPositionSize {
		return fmt.Errorf("sizing.min_position_size must be in [0, max_position_size], got %f", c.MinPositionSize)
	}
	if c.SignalDeadband < 0 || c.SignalDeadband >= 1 {
		return fmt.Errorf("sizing.signal_deadband must be in [0, 1), got %f", c.SignalDeadband)
	}
	if c.LearningRate < 0 || c.LearningRate > 1 {
		return fmt.Errorf("sizing.learning_rate must be in [0, 1], got %f", c.LearningRate)
	}
	if c.AdaptationPeriod < 0 {
		return fmt.Errorf("sizing.adaptation_period must be non-negative, got %d", c.AdaptationPeriod)
	}
	return nil
}

// Validate checks risk management parameters.
func (c *RiskManagementConfig) Validate() error {
	if c.MaxPortfolioRisk <= 0 {
		return fmt.Errorf("risk.max_portfolio_risk must be positive, got %f", c.MaxPortfolioRisk)
	}
	if c.MaxPositionRisk <= 0 {
		return fmt.Errorf("risk.max_position_risk must be positive, got %f", c.MaxPositionRisk)
	}
	if c.VaRLimit <= 0 {
		return fmt.Errorf("risk.var_limit must be positive, got %f", c.VaRLimit)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("risk.max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.ResizeThreshold <= 0 || c.ResizeThreshold >= 1 {
		return fmt.Errorf("risk.resize_threshold must be in (0, 1), got %f", c.ResizeThreshold)
	}
	switch c.OnNonConvergence {
	case NonConvergenceProceed, NonConvergenceAbort:
	default:
		return fmt.Errorf("risk.on_non_convergence must be %q or %q, got %q",
			NonConvergenceProceed, NonConvergenceAbort, c.OnNonConvergence)
	}
	return nil
}

// Validate checks correlation parameters.
func (c *CorrelationConfig) Validate() error {
	if c.MaxCorrelation <= 0 || c.MaxCorrelation >= 1 {
		return fmt.Errorf("correlation.max_correlation must be in (0, 1), got %f", c.MaxCorrelation)
	}
	if c.AdjustmentFactor <= 0 || c.AdjustmentFactor >= 1 {
		return fmt.Errorf("correlation.adjustment_factor must be in (0, 1), got %f", c.AdjustmentFactor)
	}
	return nil
}

// Validate checks execution rules parameters.
func (c *ExecutionRulesConfig) Validate() error {
	if !models.ValidOrderType(c.DefaultOrderType) {
		return fmt.Errorf("execution.default_order_type %q is not a valid order type", c.DefaultOrderType)
	}
	if !models.ValidTimeInForce(c.TimeInForce) {
		return fmt.Errorf("execution.time_in_force %q is not a valid time in force", c.TimeInForce)
	}
	if c.PriceThreshold <= 0 || c.PriceThreshold >= 1 {
		return fmt.Errorf("execution.price_threshold must be in (0, 1), got %f", c.PriceThreshold)
	}
	if c.MarketImpactLimit <= 0 {
		return fmt.Errorf("execution.market_impact_limit must be positive, got %f", c.MarketImpactLimit)
	}
	if c.DefaultImpactCoefficient < 0 {
		return fmt.Errorf("execution.default_impact_coefficient must be non-negative, got %f", c.DefaultImpactCoefficient)
	}
	return nil
}
