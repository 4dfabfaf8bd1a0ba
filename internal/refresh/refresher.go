// Package refresh obtains fresh access tokens for stored credential
// bundles. Dispatch is purely on the bundle's auth method; a strategy
// failure is surfaced verbatim and never causes a fallback to a different
// strategy.
package refresh

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/rpc"
)

// SocialRefreshUserAgent is the version-pinned identity the auth service
// requires on refresh calls. It must match exactly.
const SocialRefreshUserAgent = "KiroIDE/1.0.0 (desktop)"

// Doer abstracts the HTTP client used for the JSON token endpoints.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the refresher endpoints.
type Config struct {
	// OIDCBaseURLTmpl renders the region-scoped OIDC base, %s = region.
	OIDCBaseURLTmpl string
	// DefaultRegion is used when a bundle carries no region of its own.
	DefaultRegion string
	// SocialBaseURL is the fixed auth-service base.
	SocialBaseURL string
}

// Refresher dispatches refresh calls across the three scheme strategies.
type Refresher struct {
	cfg     Config
	httpc   Doer
	rpc     *rpc.Client
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewRefresher creates a refresher. The RPC client is required for the
// cookie strategy; httpc serves the plain-JSON OIDC and social endpoints.
func NewRefresher(cfg Config, httpc Doer, rpcClient *rpc.Client, logger *logging.Logger, m *metrics.Metrics) *Refresher {
	if cfg.OIDCBaseURLTmpl == "" {
		cfg.OIDCBaseURLTmpl = "https://oidc.%s.amazonaws.com"
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "us-east-1"
	}
	if cfg.SocialBaseURL == "" {
		cfg.SocialBaseURL = "https://prod.us-east-1.auth.desktop.kiro.dev"
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Refresher{
		cfg:     cfg,
		httpc:   httpc,
		rpc:     rpcClient,
		log:     logger.Component("refresh"),
		metrics: m,
	}
}

// Refresh obtains fresh tokens for the bundle. Missing scheme material is a
// configuration error reported before any network attempt.
func (r *Refresher) Refresh(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error) {
	tokens, err := r.dispatch(ctx, bundle)
	r.count(bundle.AuthMethod, err)
	if err != nil {
		return nil, err
	}
	r.log.Debug("token refreshed", "scheme", string(bundle.AuthMethod), "provider", string(bundle.Provider))
	return tokens, nil
}

func (r *Refresher) dispatch(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error) {
	switch bundle.AuthMethod {
	case models.AuthOIDC:
		if strings.TrimSpace(bundle.RefreshToken) == "" {
			return nil, &errors.ErrConfiguration{Field: "refresh_token"}
		}
		if bundle.ClientID == "" || bundle.ClientSecret == "" {
			return nil, &errors.ErrConfiguration{Field: "client_id/client_secret", Reason: "oidc refresh requires the registered client"}
		}
		return r.refreshOIDC(ctx, bundle)
	case models.AuthSocial:
		if strings.TrimSpace(bundle.RefreshToken) == "" {
			return nil, &errors.ErrConfiguration{Field: "refresh_token"}
		}
		return r.refreshSocial(ctx, bundle)
	case models.AuthWebOAuth:
		if bundle.CSRFToken == "" || bundle.AccessToken == "" || bundle.IdP() == "" {
			return nil, &errors.ErrConfiguration{Field: "csrf_token/access_token/idp", Reason: "weboauth refresh requires the session cookie material"}
		}
		if strings.TrimSpace(bundle.RefreshToken) == "" {
			return nil, &errors.ErrConfiguration{Field: "refresh_token", Reason: "weboauth refresh requires the session token"}
		}
		return r.refreshCookieRPC(ctx, bundle)
	default:
		return nil, &errors.ErrConfiguration{Field: "auth_method", Reason: fmt.Sprintf("unknown scheme %q", bundle.AuthMethod)}
	}
}

func (r *Refresher) count(method models.AuthMethod, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.metrics.RefreshTotal.WithLabelValues(string(method), outcome).Inc()
}
