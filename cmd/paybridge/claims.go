package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var claimsCmd = &cobra.Command{
	Use:     "claims",
	Short:   "Inspect claims",
	GroupID: "claims",
}

var claimsUnresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "List claims that are pending, failed, or paid but not reconciled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := apiClient.ListUnresolved(context.Background())
		if err != nil {
			return fmt.Errorf("listing unresolved claims: %w", err)
		}
		if jsonOutput {
			return printJSON(claims)
		}
		printClaimTable(os.Stdout, claims)
		return nil
	},
}

var claimsShowCmd = &cobra.Command{
	Use:   "show <tx-hash>",
	Short: "Show one claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient.GetClaim(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting claim %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(c)
		}
		printClaim(os.Stdout, c)
		return nil
	},
}

var claimsEventsCmd = &cobra.Command{
	Use:   "events <tx-hash>",
	Short: "Show the audit trail of one claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := apiClient.GetEvents(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting events for %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(evts)
		}
		printEventTable(os.Stdout, evts)
		return nil
	},
}

func init() {
	claimsCmd.AddCommand(claimsUnresolvedCmd)
	claimsCmd.AddCommand(claimsShowCmd)
	claimsCmd.AddCommand(claimsEventsCmd)
}
