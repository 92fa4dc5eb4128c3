package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var (
	simulatePrice  string
	simulateDryRun bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate active alerts against a given price",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("--price must be a positive number")
		}
		return getApp().Simulate(cmd.Context(), cmd.OutOrStdout(), app.SimulateOptions{
			Price:  price,
			DryRun: simulateDryRun,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Spot price to evaluate")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Report triggers without recording or publishing them")
}
