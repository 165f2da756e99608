package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradepipeline/internal/models"
	"tradepipeline/internal/store"
)

func newCyclesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Inspect persisted execution cycles",
		Long:  "List persisted cycles and show the decisions and orders of a cycle.",
	}

	cmd.AddCommand(newCyclesListCmd(app))
	cmd.AddCommand(newCyclesShowCmd(app))

	return cmd
}

func newCyclesListCmd(app *App) *cobra.Command {
	var (
		status string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted cycles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store is not enabled; set store.enabled in config.toml")
			}

			filter := store.CycleFilter{
				Status: models.CycleStatus(status),
				Limit:  limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
				filter.Since = t
			}

			reports, err := app.Store.GetCycles(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(reports)
			}
			if len(reports) == 0 {
				output.Dim("No cycles found.")
				return nil
			}

			table := NewTable(output, "ID", "STARTED", "STATUS", "CONVERGED", "ITERS", "ORDERS")
			for _, r := range reports {
				statusText := output.Green(string(r.Status))
				if r.Status == models.CycleError {
					statusText = output.Red(string(r.Status))
				}
				table.AddRow(
					r.ID,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					statusText,
					fmt.Sprintf("%v", r.Converged),
					fmt.Sprintf("%d", r.RiskIteration),
					fmt.Sprintf("%d", r.OrderCount),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (DONE or ERROR)")
	cmd.Flags().StringVar(&since, "since", "", "only cycles started on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum cycles to list")

	return cmd
}

func newCyclesShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show the decisions and orders of a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store is not enabled; set store.enabled in config.toml")
			}
			cycleID := args[0]

			decisions, err := app.Store.GetDecisions(cmd.Context(), cycleID)
			if err != nil {
				return err
			}
			orders, err := app.Store.GetOrders(cmd.Context(), cycleID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"cycle_id":  cycleID,
					"decisions": decisions,
					"orders":    orders,
				})
			}

			output.Bold("Decisions for %s", cycleID)
			if len(decisions) == 0 {
				output.Dim("  none")
			}
			for _, d := range decisions {
				output.Printf("  [%s] %s (confidence %.2f)\n", d.Stage, d.Action, d.Confidence)
				if d.Reasoning != "" {
					output.Dim("    %s", d.Reasoning)
				}
			}
			output.Println()

			output.Bold("Orders (%d)", len(orders))
			if len(orders) == 0 {
				output.Dim("  none")
				return nil
			}
			table := NewTable(output, "SYMBOL", "SIDE", "QTY", "TYPE", "PRICE", "TIF")
			for _, o := range orders {
				price := "-"
				if o.HasPrice {
					price = fmt.Sprintf("%.2f", o.Price)
				}
				table.AddRow(o.Symbol, string(o.Side), fmt.Sprintf("%d", o.Quantity),
					string(o.Type), price, string(o.TimeInForce))
			}
			table.Render()
			return nil
		},
	}
}
