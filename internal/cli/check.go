package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check <access-token>",
	Aliases: []string{"verify"},
	Short:   "Verify a single access token",
	Long: `Verify a single access token against the backend and print the
resulting account snapshot: identity, subscription tier, and the
normalized credit quota breakdown.

Example:
  kirocloud check eyJraWQi... --idp BuilderId`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var checkIdP string

func init() {
	checkCmd.Flags().StringVar(&checkIdP, "idp", "BuilderId", "Identity provider of the token (BuilderId, Google, Github)")
	RegisterCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshot, err := app.verifier.Verify(ctx, args[0], checkIdP)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		return printJSON(snapshot)
	}
	fmt.Printf("Email:        %s\n", snapshot.Email)
	fmt.Printf("Provider:     %s (header v%d)\n", snapshot.IdP, snapshot.HeaderVersion)
	fmt.Printf("Subscription: %s (%s)\n", snapshot.SubscriptionTitle, snapshot.SubscriptionType)
	fmt.Printf("Credits:      %d/%d", snapshot.Usage.TotalCurrent, snapshot.Usage.TotalLimit)
	if snapshot.Usage.FreeTrial != nil {
		fmt.Printf(" (trial %d/%d)", snapshot.Usage.FreeTrial.Current, snapshot.Usage.FreeTrial.Limit)
	}
	fmt.Println()
	if snapshot.NextResetDate != nil {
		fmt.Printf("Resets:       %s (%d days)\n", snapshot.NextResetDate.Format("2006-01-02"), snapshot.DaysRemaining)
	}
	return nil
}
