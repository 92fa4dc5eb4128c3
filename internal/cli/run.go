package cli

import (
	"github.com/spf13/cobra"

	"price-alerts/internal/config"
)

var (
	runHTTPAddr string
	runNoHTTP   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fetch scheduler, alert evaluator and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		applyRunFlags(a.Config)
		return a.Run(cmd.Context())
	},
}

// applyRunFlags lets the command line override the HTTP listener settings.
func applyRunFlags(cfg *config.Config) {
	if runHTTPAddr != "" {
		cfg.HTTP.Addr = runHTTPAddr
	}
	if runNoHTTP {
		cfg.HTTP.Enabled = false
	}
}

func init() {
	runCmd.Flags().StringVar(&runHTTPAddr, "http-addr", "", "Override http.addr")
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "Run without the HTTP API")
}
