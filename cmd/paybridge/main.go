package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paybridge/internal/client"
	"github.com/alfredjeanlab/paybridge/internal/ui"
)

var (
	httpURL    string
	authToken  string
	jsonOutput bool

	apiClient client.Client
)

func defaultHTTPURL() string {
	if s := os.Getenv("PAYBRIDGE_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:          "paybridge <command>",
	Short:        "Pay out on-ledger salary claims and reconcile them",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		apiClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if apiClient != nil {
			apiClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "daemon HTTP URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("PAYBRIDGE_AUTH_TOKEN"), "bearer token for the daemon API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "claims", Title: "Claims:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Claims
	rootCmd.AddCommand(claimsCmd)
	rootCmd.AddCommand(retryCmd)

	// Views
	rootCmd.AddCommand(employeesCmd)
	rootCmd.AddCommand(proofsCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
