// Package cli provides the command-line interface for the trade execution
// pipeline.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradepipeline/internal/config"
	"tradepipeline/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Store.Enabled {
		dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize store, persistence disabled")
		} else {
			app.Store = dataStore
			logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
		}
	}

	rootCmd := &cobra.Command{
		Use:   "tradepipeline",
		Short: "Trade execution pipeline - signals to risk-bounded orders",
		Long: `Trade execution pipeline converts strategy signals and a portfolio
snapshot into a risk-bounded order list.

Each run executes one cycle through four stages: position sizing, risk
management, correlation adjustment, and execution rules. A cycle either
completes with a full order list or aborts with none.

Use 'tradepipeline help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradepipeline)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCyclesCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("tradepipeline v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate pipeline configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Position Sizing")
	output.Printf("  Method:            %s\n", cfg.Sizing.Method)
	output.Printf("  Max Position Size: %.2f%%\n", cfg.Sizing.MaxPositionSize*100)
	output.Printf("  Min Position Size: %.2f%%\n", cfg.Sizing.MinPositionSize*100)
	output.Printf("  Signal Deadband:   %.3f\n", cfg.Sizing.SignalDeadband)
	output.Println()

	output.Bold("Risk Management")
	output.Printf("  Max Portfolio Risk: %.2f%%\n", cfg.Risk.MaxPortfolioRisk*100)
	output.Printf("  Max Position Risk:  %.2f%%\n", cfg.Risk.MaxPositionRisk*100)
	output.Printf("  VaR Limit:          %.2f%%\n", cfg.Risk.VaRLimit*100)
	output.Printf("  Max Iterations:     %d\n", cfg.Risk.MaxIterations)
	output.Printf("  Resize Threshold:   %.2f\n", cfg.Risk.ResizeThreshold)
	output.Printf("  On Non-Convergence: %s\n", cfg.Risk.OnNonConvergence)
	output.Println()

	output.Bold("Correlation")
	output.Printf("  Max Correlation:   %.2f\n", cfg.Correlation.MaxCorrelation)
	output.Printf("  Adjustment Factor: %.2f\n", cfg.Correlation.AdjustmentFactor)
	output.Println()

	output.Bold("Execution Rules")
	output.Printf("  Default Order Type: %s\n", cfg.Execution.DefaultOrderType)
	output.Printf("  Time In Force:      %s\n", cfg.Execution.TimeInForce)
	output.Printf("  Price Threshold:    %.2f%%\n", cfg.Execution.PriceThreshold*100)
	output.Printf("  Impact Limit:       %.0f\n", cfg.Execution.MarketImpactLimit)
	output.Println()

	output.Bold("Store")
	output.Printf("  Enabled: %v\n", cfg.Store.Enabled)
	output.Printf("  Path:    %s\n", cfg.Store.Path)
}
