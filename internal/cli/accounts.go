package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List stored accounts and their token state",
	RunE:  runAccounts,
}

func init() {
	RootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	a, err := buildApp(globalFlags.Config, false)
	if err != nil {
		return err
	}

	accounts, err := a.agg.ListAccounts()
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts stored. Add one with the web UI or 'quotapanel serve' + /api/auth/login.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tFILE\tEXPIRES\tSTATE")
	for _, acc := range accounts {
		state := "valid"
		if acc.IsExpired {
			state = "expired"
		}
		expires := acc.Expired
		if expires == "" {
			expires = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", acc.Email, acc.File, expires, state)
	}
	return w.Flush()
}
