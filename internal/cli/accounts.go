package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List stored accounts",
	RunE:  runAccounts,
}

func init() {
	RegisterCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	accounts := app.store.ListAccounts()
	if globalFlags.JSON {
		return printJSON(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts stored.")
		return nil
	}
	fmt.Printf("%-20s %-25s %-10s %-10s %-8s %-8s\n", "LABEL", "EMAIL", "IDP", "TIER", "BANNED", "REAUTH")
	for _, acc := range accounts {
		email, tier := "-", "-"
		if acc.Snapshot != nil {
			email = acc.Snapshot.Email
			tier = string(acc.Snapshot.SubscriptionType)
		}
		fmt.Printf("%-20s %-25s %-10s %-10s %-8s %-8s\n",
			acc.Label, email, acc.Credentials.IdP(), tier,
			boolMark(acc.Banned), boolMark(acc.NeedsReauth))
	}
	return nil
}
