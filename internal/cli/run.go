package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tradepipeline/internal/models"
	"tradepipeline/internal/pipeline"
	"tradepipeline/internal/riskmodel"
	"tradepipeline/pkg/utils"
)

// cycleSnapshot is the JSON shape of a cycle input file. Every input is
// materialized up front; the pipeline performs no I/O of its own.
type cycleSnapshot struct {
	Signals   map[string]snapshotSignal   `json:"signals"`
	Cash      float64                     `json:"cash"`
	Positions map[string]snapshotPosition `json:"positions"`
	Prices    map[string]float64          `json:"prices"`
	// Correlations are pairwise entries; the matrix is built symmetrically.
	Correlations       []snapshotCorrelation `json:"correlations"`
	Volatility         map[string]float64    `json:"volatility"`
	Returns            map[string][]float64  `json:"returns"`
	ImpactCoefficients map[string]float64    `json:"impact_coefficients"`
}

type snapshotSignal struct {
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

type snapshotPosition struct {
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

type snapshotCorrelation struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Value float64 `json:"value"`
}

func newRunCmd(app *App) *cobra.Command {
	var (
		inputPath  string
		defaultVol float64
		noStore    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one trade execution cycle",
		Long: `Execute one cycle of the pipeline from a JSON snapshot file.

The snapshot carries signals, the portfolio state, reference prices,
pairwise correlations, and either per-symbol volatilities or historical
return series for volatility estimation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			snapshot, err := loadSnapshot(inputPath)
			if err != nil {
				return err
			}

			input, err := snapshot.toCycleInput()
			if err != nil {
				return err
			}

			model, err := buildRiskModel(snapshot, defaultVol)
			if err != nil {
				return err
			}

			orchestrator, err := pipeline.NewTradeExecutionOrchestrator(app.Config, model, app.Logger)
			if err != nil {
				return err
			}

			result, err := orchestrator.Execute(input)
			if err != nil {
				output.Error("Cycle failed: %v", err)
				return err
			}

			if app.Store != nil && !noStore {
				if err := persistCycle(cmd.Context(), app, orchestrator, result); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to persist cycle")
					output.Warning("Cycle not persisted: %v", err)
				}
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			printCycleResult(output, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "path to cycle snapshot JSON (required)")
	cmd.Flags().Float64Var(&defaultVol, "default-volatility", 0.02, "volatility for symbols without an estimate")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "skip persisting the cycle")
	cmd.MarkFlagRequired("input")

	return cmd
}

func loadSnapshot(path string) (*cycleSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var snapshot cycleSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}

func (s *cycleSnapshot) toCycleInput() (pipeline.CycleInput, error) {
	signals := make(map[string]models.Signal, len(s.Signals))
	for symbol, sig := range s.Signals {
		signals[symbol] = models.Signal{
			Symbol:     symbol,
			Strength:   sig.Strength,
			Confidence: sig.Confidence,
		}
	}

	positions := make(map[string]models.Position, len(s.Positions))
	for symbol, pos := range s.Positions {
		positions[symbol] = models.Position{
			Symbol:       symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
		}
	}

	correlations := models.NewCorrelationMatrix()
	for _, entry := range s.Correlations {
		if entry.A == "" || entry.B == "" {
			return pipeline.CycleInput{}, fmt.Errorf("correlation entry requires both symbols, got (%q, %q)", entry.A, entry.B)
		}
		correlations.Set(entry.A, entry.B, entry.Value)
	}

	return pipeline.CycleInput{
		Signals:            signals,
		Portfolio:          &models.PortfolioState{Positions: positions, Cash: s.Cash},
		Prices:             s.Prices,
		Correlations:       correlations,
		Volatility:         s.Volatility,
		ImpactCoefficients: s.ImpactCoefficients,
	}, nil
}

// buildRiskModel prefers explicit volatilities; symbols covered only by
// return series get an estimated volatility.
func buildRiskModel(s *cycleSnapshot, defaultVol float64) (pipeline.RiskModel, error) {
	model, err := riskmodel.FromReturns(s.Returns, defaultVol)
	if err != nil {
		return nil, err
	}
	if len(s.Volatility) == 0 {
		return model, nil
	}
	volatility := make(map[string]float64, len(s.Volatility))
	for symbol := range s.Returns {
		volatility[symbol] = model.Volatility(symbol)
	}
	for symbol, vol := range s.Volatility {
		volatility[symbol] = vol
	}
	return riskmodel.NewCovarianceModel(volatility, defaultVol), nil
}

// persistCycle writes the report, stage decisions, and orders. Store writes
// retry with backoff since SQLite can be briefly locked by another process.
func persistCycle(ctx context.Context, app *App, orchestrator *pipeline.TradeExecutionOrchestrator, result *pipeline.CycleResult) error {
	if ctx == nil {
		ctx = context.Background()
	}
	retryCfg := utils.DefaultRetryConfig()

	if err := utils.Retry(ctx, retryCfg, func() error {
		return app.Store.SaveCycle(ctx, result.Report)
	}); err != nil {
		return fmt.Errorf("saving cycle report: %w", err)
	}

	stages := []string{
		pipeline.StageSizing,
		pipeline.StageRisk,
		pipeline.StageCorrelation,
		pipeline.StageRules,
	}
	for _, stage := range stages {
		state := orchestrator.AgentState(stage)
		if state == nil {
			continue
		}
		for i := range state.HistoricalDecisions {
			decision := state.HistoricalDecisions[i]
			if decision.Timestamp.Before(result.Report.StartedAt) {
				continue
			}
			if err := utils.Retry(ctx, retryCfg, func() error {
				return app.Store.SaveDecision(ctx, result.Report.ID, &decision)
			}); err != nil {
				return fmt.Errorf("saving %s decision: %w", stage, err)
			}
		}
	}

	if len(result.Orders) > 0 {
		if err := utils.Retry(ctx, retryCfg, func() error {
			return app.Store.SaveOrders(ctx, result.Report.ID, result.Orders)
		}); err != nil {
			return fmt.Errorf("saving orders: %w", err)
		}
	}
	return nil
}

func printCycleResult(output *Output, result *pipeline.CycleResult) {
	report := result.Report

	output.Bold("Cycle %s", report.ID)
	output.Printf("  Status:          %s\n", report.Status)
	output.Printf("  Duration:        %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Microsecond))
	if result.Converged {
		output.Printf("  Risk:            converged after %d iteration(s)\n", result.RiskIterations)
	} else {
		output.Printf("  Risk:            %s\n", output.Yellow(fmt.Sprintf("not converged after %d iterations", result.RiskIterations)))
	}
	output.Printf("  Portfolio Risk:  %.4f\n", result.Metrics.PortfolioRisk)
	output.Printf("  Value at Risk:   %.4f\n", result.Metrics.ValueAtRisk)
	output.Println()

	if len(result.Warnings) > 0 {
		output.Bold("Warnings")
		for _, warning := range result.Warnings {
			output.Warning("  ⚠ %s", warning)
		}
		output.Println()
	}

	if len(result.Orders) == 0 {
		output.Dim("No orders emitted.")
		return
	}

	output.Bold("Orders (%d)", len(result.Orders))
	table := NewTable(output, "SYMBOL", "SIDE", "QTY", "TYPE", "PRICE", "TIF")
	for _, order := range result.Orders {
		price := "-"
		if order.HasPrice {
			price = fmt.Sprintf("%.2f", order.Price)
		}
		side := output.Green(string(order.Side))
		if order.Side == models.SideSell {
			side = output.Red(string(order.Side))
		}
		table.AddRow(
			order.Symbol,
			side,
			fmt.Sprintf("%d", order.Quantity),
			string(order.Type),
			price,
			string(order.TimeInForce),
		)
	}
	table.Render()
}
