package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// quotasCmd represents the quotas command
var quotasCmd = &cobra.Command{
	Use:     "quotas",
	Aliases: []string{"q", "quota", "limits"},
	Short:   "Show current quota usage for all stored accounts",
	Long: `Re-verify every stored account and display its credit quota: base,
free-trial, and bonus components plus totals. Expired tokens are
refreshed where the scheme allows it.

Examples:
  kirocloud quotas
  kirocloud quotas --json`,
	RunE: runQuotas,
}

func init() {
	RegisterCommand(quotasCmd)
}

func runQuotas(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	accounts := app.store.ListAccounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts stored.")
		return nil
	}

	sweeper := newSweeper(app, nil)
	sweeper.SweepOnce(ctx)

	accounts = app.store.ListAccounts()
	if globalFlags.JSON {
		return printJSON(accounts)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tTIER\tUSED\tLIMIT\tTRIAL\tBONUSES\tRESET")
	for _, acc := range accounts {
		if acc.Snapshot == nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\n", acc.Label)
			continue
		}
		snap := acc.Snapshot
		trial := "-"
		if snap.Usage.FreeTrial != nil {
			trial = fmt.Sprintf("%d/%d", snap.Usage.FreeTrial.Current, snap.Usage.FreeTrial.Limit)
		}
		reset := "-"
		if snap.NextResetDate != nil {
			reset = fmt.Sprintf("%s (%dd)", snap.NextResetDate.Format("2006-01-02"), snap.DaysRemaining)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
			acc.Label, snap.SubscriptionType,
			snap.Usage.TotalCurrent, snap.Usage.TotalLimit,
			trial, len(snap.Usage.Bonuses), reset)
	}
	return w.Flush()
}
