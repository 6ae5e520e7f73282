package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paybridge/internal/client"
)

var retryCmd = &cobra.Command{
	Use:     "retry",
	Short:   "Re-drive a stuck claim",
	GroupID: "claims",
}

var retryPayoutCmd = &cobra.Command{
	Use:   "payout <tx-hash>",
	Short: "Retry the payout of a pending claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetry(args[0], apiClient.RetryPayout)
	},
}

var retryReconcileCmd = &cobra.Command{
	Use:   "reconcile <tx-hash>",
	Short: "Retry the on-ledger reconcile of a paid claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetry(args[0], apiClient.RetryReconcile)
	},
}

func runRetry(id string, fn func(context.Context, string) (*client.RetryResponse, error)) error {
	resp, err := fn(context.Background(), id)
	if err != nil {
		return fmt.Errorf("retrying %s: %w", id, err)
	}
	if jsonOutput {
		return printJSON(resp)
	}
	fmt.Printf("Queued %s retry for %s\n", resp.Step, resp.ID)
	return nil
}

func init() {
	retryCmd.AddCommand(retryPayoutCmd)
	retryCmd.AddCommand(retryReconcileCmd)
}
