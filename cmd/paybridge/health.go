package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the paybridge daemon",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := apiClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health:      %s\n", h.Status)
			fmt.Printf("Watcher:     %s\n", h.Watcher)
			fmt.Printf("Queue:       %d\n", h.QueueDepth)
			fmt.Printf("SSE Clients: %d\n", h.SSEClients)
		}

		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}
