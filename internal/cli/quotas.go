package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var quotasCmd = &cobra.Command{
	Use:   "quotas",
	Short: "Fetch current quota for every stored account",
	Long: `Run one live aggregation over all stored accounts and print the
per-model remaining quota. Expired tokens are refreshed on the way.`,
	RunE: runQuotas,
}

var quotasFlags struct {
	Timeout time.Duration
}

func init() {
	quotasCmd.Flags().DurationVar(&quotasFlags.Timeout, "timeout", 2*time.Minute, "Overall aggregation timeout")
	RootCmd.AddCommand(quotasCmd)
}

func runQuotas(cmd *cobra.Command, args []string) error {
	a, err := buildApp(globalFlags.Config, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), quotasFlags.Timeout)
	defer cancel()

	results, err := a.agg.AggregateAll(ctx)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tMODEL\tCATEGORY\tREMAINING\tRESETS")
	for _, r := range results {
		if !r.Success {
			fmt.Fprintf(w, "%s\t-\t-\tERROR: %s\t-\n", r.Email, r.Error)
			continue
		}
		for _, m := range r.Quota.Models {
			remaining := "-"
			resets := "-"
			if m.Quota != nil {
				if m.Quota.RemainingPercentage != nil {
					remaining = fmt.Sprintf("%.1f%%", *m.Quota.RemainingPercentage)
				}
				if m.Quota.IsExhausted {
					remaining = "exhausted"
				}
				if m.Quota.ResetTime != "" {
					resets = m.Quota.ResetTime
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Email, m.Name, m.Category, remaining, resets)
		}
	}
	return w.Flush()
}
