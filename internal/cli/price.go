package cli

import (
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Inspect the cached spot price",
}

var priceCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current price, fetching it if the cache is cold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), cmd.OutOrStdout(), false)
	},
}

var priceRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop the cached price and fetch a fresh one",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), cmd.OutOrStdout(), true)
	},
}

func init() {
	priceCmd.AddCommand(priceCurrentCmd)
	priceCmd.AddCommand(priceRefreshCmd)
}
