package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/pkceflow"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign an account in",
}

var loginDeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Sign in with the OIDC device-code flow (AWS Builder ID)",
	RunE:  runLoginDevice,
}

var loginSocialCmd = &cobra.Command{
	Use:   "social",
	Short: "Sign in with a social identity provider via the system browser",
	RunE:  runLoginSocial,
}

var (
	loginRegion   string
	loginProvider string
	loginLabel    string
)

func init() {
	loginDeviceCmd.Flags().StringVar(&loginRegion, "region", "", "OIDC region (defaults to the configured region)")
	loginSocialCmd.Flags().StringVar(&loginProvider, "provider", "google", "Identity provider: google or github")
	loginCmd.PersistentFlags().StringVar(&loginLabel, "label", "", "Label for the stored account")
	loginCmd.AddCommand(loginDeviceCmd)
	loginCmd.AddCommand(loginSocialCmd)
	RegisterCommand(loginCmd)
}

func runLoginDevice(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	start, err := app.device.Start(ctx, loginRegion)
	if err != nil {
		return err
	}

	fmt.Printf("Open %s and enter code %s\n", start.VerificationURI, start.UserCode)
	fmt.Printf("Waiting for authorization (expires in %ds)...\n", start.ExpiresIn)
	if app.cfg.Browser.AutomationEndpoint != "" {
		// A driven browser skips the code-entry form.
		if err := app.device.AcceptUserCode(ctx); err != nil {
			app.log.Warn("user code pre-accept failed", "error", err.Error())
		}
	}
	if !app.cfg.Browser.NoBrowser {
		opener := &pkceflow.SystemOpener{
			AutomationEndpoint: app.cfg.Browser.AutomationEndpoint,
			Logger:             app.log,
		}
		_ = opener.Open(start.VerificationURI)
	}

	result, err := app.device.Wait(ctx)
	if err != nil {
		return err
	}
	if err := app.device.AssociateToken(ctx, result.Region, result.Tokens.AccessToken); err != nil {
		app.log.Warn("token association failed", "error", err.Error())
	}

	bundle := models.CredentialBundle{
		ClientID:     result.ClientID,
		ClientSecret: result.ClientSecret,
		Region:       result.Region,
		AuthMethod:   models.AuthOIDC,
		Provider:     models.ProviderBuilderID,
	}
	bundle.Apply(result.Tokens, time.Now())

	return finishLogin(app, bundle)
}

func runLoginSocial(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(loginProvider)
	if err != nil {
		return err
	}

	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	callback := pkceflow.NewCallbackServer(app.cfg.Callback.Port, app.log)
	if err := callback.Start(); err != nil {
		return err
	}
	defer func() { _ = callback.Shutdown(context.Background()) }()

	start, err := app.pkce.Start(ctx, provider, callback.RedirectURI())
	if err != nil {
		return err
	}
	fmt.Printf("Complete the sign-in in your browser:\n  %s\n", start.LoginURL)

	cb, err := callback.Wait(ctx)
	if err != nil {
		app.pkce.Cancel()
		return err
	}
	if cb.Err != "" {
		app.pkce.Cancel()
		return fmt.Errorf("sign-in failed: %s", cb.Err)
	}

	result, err := app.pkce.Complete(ctx, cb.Code, cb.State)
	if err != nil {
		return err
	}

	bundle := models.CredentialBundle{
		AuthMethod: result.Method,
		Provider:   result.Provider,
	}
	bundle.Apply(result.Tokens, time.Now())

	return finishLogin(app, bundle)
}

// finishLogin verifies the fresh bundle and stores the account.
func finishLogin(app *app, bundle models.CredentialBundle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshot, err := app.verifier.Verify(ctx, bundle.AccessToken, bundle.IdP())
	if err != nil {
		return fmt.Errorf("account verification failed: %w", err)
	}

	label := loginLabel
	if label == "" {
		label = snapshot.Email
	}
	acc := &models.Account{
		ID:          uuid.NewString(),
		Label:       label,
		Credentials: bundle,
		Snapshot:    snapshot,
	}
	app.store.SetAccount(acc)

	if globalFlags.JSON {
		return printJSON(acc)
	}
	fmt.Printf("Signed in: %s (%s, %s tier)\n", snapshot.Email, bundle.IdP(), snapshot.SubscriptionType)
	fmt.Printf("Quota: %d/%d credits\n", snapshot.Usage.TotalCurrent, snapshot.Usage.TotalLimit)
	return nil
}

func parseProvider(s string) (models.Provider, error) {
	switch s {
	case "google":
		return models.ProviderGoogle, nil
	case "github":
		return models.ProviderGitHub, nil
	default:
		return "", fmt.Errorf("unknown provider %q (expected google or github)", s)
	}
}
