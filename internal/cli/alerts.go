package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"price-alerts/internal/app"
)

var alertsOwner string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the live alerts of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(alertsOwner) == "" {
			return fmt.Errorf("--owner is required")
		}
		return getApp().ListAlerts(cmd.Context(), cmd.OutOrStdout(), app.ListOptions{Owner: alertsOwner})
	},
}

func init() {
	alertsListCmd.Flags().StringVar(&alertsOwner, "owner", "", "User id owning the alerts")
	alertsCmd.AddCommand(alertsListCmd)
}
