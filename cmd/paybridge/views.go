package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/paybridge/internal/client"
	"github.com/alfredjeanlab/paybridge/internal/model"
)

var employeesCmd = &cobra.Command{
	Use:     "employees",
	Short:   "Show the latest payout status of every employee",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient.ListEmployees(context.Background())
		if err != nil {
			return fmt.Errorf("listing employees: %w", err)
		}
		if jsonOutput {
			return printJSON(list)
		}
		printEmployeeTable(os.Stdout, list)
		return nil
	},
}

var proofsCmd = &cobra.Command{
	Use:     "proofs",
	Short:   "List recorded proof artifacts",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient.ListProofs(context.Background())
		if err != nil {
			return fmt.Errorf("listing proofs: %w", err)
		}
		if jsonOutput {
			return printJSON(list)
		}
		printProofTable(os.Stdout, list)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream claim broadcasts as they happen",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetString("topics")
		claim, _ := cmd.Flags().GetString("claim")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		filter := client.StreamFilter{Claim: claim}
		if topics != "" {
			filter.Topics = strings.Split(topics, ",")
		}
		err := apiClient.Stream(ctx, filter, func(m *model.Message) error {
			if jsonOutput {
				return printJSON(m)
			}
			fmt.Println(formatMessage(m))
			return nil
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("watching: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().String("topics", "", "comma-separated subject patterns, e.g. payroll.claim.payout or payroll.claim.*")
	watchCmd.Flags().String("claim", "", "only show messages for this claim id")
}
