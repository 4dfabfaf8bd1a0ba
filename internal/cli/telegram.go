package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonaii/kirocloud/internal/models"
)

// telegramCmd sends a test alert through the configured bot so operators
// can confirm the chat wiring before relying on sweep alerts.
var telegramCmd = &cobra.Command{
	Use:   "telegram-test",
	Short: "Send a test alert through the configured Telegram bot",
	RunE:  runTelegramTest,
}

func init() {
	RegisterCommand(telegramCmd)
}

func runTelegramTest(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}
	if app.notifier == nil {
		return fmt.Errorf("telegram alerts are not configured (set telegram.enabled, bot_token, chat_id)")
	}

	app.notifier.AccountNeedsReauth(&models.Account{
		ID:    "test",
		Label: "telegram-test",
		Credentials: models.CredentialBundle{
			AuthMethod: models.AuthOIDC,
			Provider:   models.ProviderBuilderID,
		},
	})
	fmt.Println("Test alert sent.")
	return nil
}
