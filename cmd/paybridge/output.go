package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printClaim(w io.Writer, c *model.Claim) {
	fmt.Fprintf(w, "ID:          %s\n", c.ID)
	fmt.Fprintf(w, "Employee:    %s\n", c.Employee)
	fmt.Fprintf(w, "Amount:      %s wei\n", c.Amount)
	fmt.Fprintf(w, "Amount USD:  %s\n", c.AmountUSD.StringFixed(2))
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(c.Status.String()))
	if c.PayoutReference != "" {
		fmt.Fprintf(w, "Payout:      %s (%s)\n", c.PayoutReference, c.PayoutMode)
	}
	if c.ReconcileTxID != "" {
		fmt.Fprintf(w, "Reconcile:   %s\n", c.ReconcileTxID)
	} else if c.ReconcileSubmittedTx != "" {
		fmt.Fprintf(w, "Submitted:   %s\n", c.ReconcileSubmittedTx)
	}
	if c.LastError != "" {
		fmt.Fprintf(w, "Last Error:  %s\n", c.LastError)
	}
	fmt.Fprintf(w, "Block:       %d\n", c.BlockNumber)
	if !c.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", c.CreatedAt.Format(time.DateTime))
	}
	if !c.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", c.UpdatedAt.Format(time.DateTime))
	}
}

func printClaimTable(w io.Writer, claims []*model.Claim) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tEMPLOYEE\tUSD\tERROR")
	for _, c := range claims {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortHash(c.ID),
			c.Status,
			shortHash(c.Employee),
			c.AmountUSD.StringFixed(2),
			truncate(c.LastError, 40),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d unresolved\n", len(claims))
}

func printEventTable(w io.Writer, evts []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOPIC\tPAYLOAD")
	for _, e := range evts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Format(time.DateTime), e.Topic, truncate(string(e.Payload), 80))
	}
	tw.Flush()
}

func printEmployeeTable(w io.Writer, list []*model.EmployeeStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMPLOYEE\tLAST PAYOUT\tSTATUS\tMODE\tCLAIM")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Employee, e.LastPayout.StringFixed(2), e.Status, e.Mode, shortHash(e.ClaimID))
	}
	tw.Flush()
}

func printProofTable(w io.Writer, list []*model.Proof) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tRECORDED")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.URL, p.CreatedAt.Format(time.DateTime))
	}
	tw.Flush()
}

// formatMessage renders one broadcast message as a single watch line.
func formatMessage(m *model.Message) string {
	ts := time.UnixMilli(m.Timestamp).Format(time.TimeOnly)
	line := fmt.Sprintf("%s  %-13s %-8s %s  $%s", ts, m.Type, ui.RenderStatus(string(m.Status)), shortHash(m.ID), m.AmountUSD)
	switch {
	case m.Error != "":
		line += "  " + m.Error
	case m.TxID != "":
		line += "  tx " + shortHash(m.TxID)
	case m.PayoutReference != "":
		line += "  " + m.PayoutReference
	}
	return line
}

// shortHash abbreviates a 0x-prefixed hash or address to 0x1234…abcd.
func shortHash(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
