package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/leonaii/kirocloud/internal/config"
	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/deviceflow"
	"github.com/leonaii/kirocloud/internal/httpx"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/notify"
	"github.com/leonaii/kirocloud/internal/pkceflow"
	"github.com/leonaii/kirocloud/internal/refresh"
	"github.com/leonaii/kirocloud/internal/rpc"
	"github.com/leonaii/kirocloud/internal/store"
	"github.com/leonaii/kirocloud/internal/verify"
)

// app wires the credential engine together for command handlers.
type app struct {
	cfg      *config.Config
	loader   *config.Loader
	log      *logging.Logger
	store    store.Store
	metrics  *metrics.Metrics
	rpc      *rpc.Client
	refresh  *refresh.Refresher
	verifier *verify.Verifier
	checker  *verify.StatusChecker
	device   *deviceflow.Flow
	pkce     *pkceflow.Flow
	notifier *notify.Notifier
}

// newApp loads configuration and assembles the engine. Configuration
// problems are reported here, before any network activity.
func newApp(configPath string) (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		var notFound *kiroerrors.ErrConfigNotFound
		if errors.As(err, &notFound) {
			cfg = config.Default()
		} else {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	level := logging.ParseLevel(cfg.App.LogLevel)
	if globalFlags.Verbose {
		level = logging.ParseLevel("debug")
	}
	log := logging.NewLogger(
		logging.WithService("kirocloud"),
		logging.WithLevel(level),
		logging.WithOutput(os.Stderr),
	)

	st := store.NewMemoryStore()
	machineSource := store.NewFileMachineID(cfg.App.DataDir)
	userAgent := rpc.NewUserAgentProvider(cfg.App.Version, machineSource)

	m := metrics.NewMetrics("kirocloud")
	rpcClient := rpc.NewClient(rpc.Config{
		BaseURL:   cfg.RPC.BaseURL,
		UserAgent: userAgent.UserAgent(),
		Timeout:   cfg.RPC.Timeout,
	}, log)

	browser := httpx.NewBrowserClient(cfg.OIDC.UseUTLS)
	refresher := refresh.NewRefresher(refresh.Config{
		OIDCBaseURLTmpl: cfg.OIDC.BaseURLTmpl,
		DefaultRegion:   cfg.OIDC.Region,
		SocialBaseURL:   cfg.Social.BaseURL,
	}, browser, rpcClient, log, m)

	verifier := verify.NewVerifier(rpcClient, log, m)
	checker := verify.NewStatusChecker(verifier, refresher, log)

	device := deviceflow.New(deviceflow.Config{
		BaseURLTmpl:   cfg.OIDC.BaseURLTmpl,
		DefaultRegion: cfg.OIDC.Region,
		StartURL:      cfg.OIDC.StartURL,
		HTTPClient:    browser,
	}, log, m)

	var opener pkceflow.URLOpener
	if !cfg.Browser.NoBrowser {
		opener = &pkceflow.SystemOpener{
			AutomationEndpoint: cfg.Browser.AutomationEndpoint,
			Logger:             log,
		}
	}
	pkce := pkceflow.New(pkceflow.Config{
		SocialBaseURL: cfg.Social.BaseURL,
	}, rpcClient, opener, log, m)

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	}

	return &app{
		cfg:      cfg,
		loader:   loader,
		log:      log,
		store:    st,
		metrics:  m,
		rpc:      rpcClient,
		refresh:  refresher,
		verifier: verifier,
		checker:  checker,
		device:   device,
		pkce:     pkce,
		notifier: notifier,
	}, nil
}

// newSweeper builds a sweeper over the app's store and checker. The
// fallback argument overrides the configured Telegram notifier.
func newSweeper(a *app, fallback verify.Notifier) *verify.Sweeper {
	notifier := fallback
	if notifier == nil && a.notifier != nil {
		notifier = a.notifier
	}
	return verify.NewSweeper(a.store, a.checker, notifier, a.metrics, a.log, a.cfg.Sweep.Interval)
}
