// Package pkceflow implements the PKCE authorization-code login against
// the social auth service, in two variants: a deep-link flow where an
// external browser calls back over a custom URI scheme (or the loopback
// listener standing in for it), and an embedded flow where an isolated
// browser window is watched for the redirect and the token exchange runs
// over the CBOR RPC ExchangeToken operation.
package pkceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/rpc"
)

// Variant selects how the browser side of the flow is driven.
type Variant string

const (
	// VariantDeepLink opens the system browser; the callback arrives via
	// the custom URI scheme or the loopback listener.
	VariantDeepLink Variant = "deeplink"
	// VariantEmbedded opens an isolated window owned by the flow and
	// intercepts the redirect in-window.
	VariantEmbedded Variant = "embedded"
)

// State tracks the PKCE flow lifecycle.
type State int

const (
	StateIdle State = iota
	StateInitiated
	StateAwaitingCallback
	StateExchanged
	StateDenied
	StateStateMismatch
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiated:
		return "initiated"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchanged:
		return "exchanged"
	case StateDenied:
		return "denied"
	case StateStateMismatch:
		return "state_mismatch"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BrowserWindow is an isolated browser window owned by an embedded flow.
// Navigations delivers every URL the window is about to visit, covering
// both will-navigate and will-redirect signals from the underlying
// browser. Closed fires when the user closes the window.
type BrowserWindow interface {
	Navigations() <-chan string
	Closed() <-chan struct{}
	Close() error
}

// WindowOpener creates embedded browser windows.
type WindowOpener interface {
	Open(ctx context.Context, url string) (BrowserWindow, error)
}

// Doer abstracts the HTTP client used for the social token endpoint.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the flow endpoints and redirect targets.
type Config struct {
	// SocialBaseURL is the auth-service base, /login and /oauth/token.
	SocialBaseURL string
	// DeepLinkRedirectURI is the custom-scheme callback, substituted with
	// the loopback listener's URL when the scheme is not registered.
	DeepLinkRedirectURI string
	// EmbeddedRedirectURI is intercepted in-window, never actually loaded.
	EmbeddedRedirectURI string
	HTTPClient          Doer
}

// Result is the terminal output of a completed flow, ready to be turned
// into a credential bundle.
type Result struct {
	Tokens   *models.RefreshedTokens
	Provider models.Provider
	Method   models.AuthMethod
}

type session struct {
	codes       *Codes
	provider    models.Provider
	variant     Variant
	redirectURI string
	window      BrowserWindow
}

// Flow is the process-wide PKCE session slot.
type Flow struct {
	cfg     Config
	rpc     *rpc.Client
	opener  URLOpener
	log     *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
	sess  *session
}

// StartResult describes an initiated deep-link flow.
type StartResult struct {
	LoginURL string
	State    string
}

// New creates the flow slot. rpcClient is required for the embedded
// variant; opener may be nil for callers that open the browser themselves.
func New(cfg Config, rpcClient *rpc.Client, opener URLOpener, logger *logging.Logger, m *metrics.Metrics) *Flow {
	if cfg.SocialBaseURL == "" {
		cfg.SocialBaseURL = "https://prod.us-east-1.auth.desktop.kiro.dev"
	}
	if cfg.DeepLinkRedirectURI == "" {
		cfg.DeepLinkRedirectURI = "kiro://kiro.kiroagent.kiro-auth/auth-callback"
	}
	if cfg.EmbeddedRedirectURI == "" {
		cfg.EmbeddedRedirectURI = "https://desktop-redirect.kiro.dev/signin-callback"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Flow{
		cfg:     cfg,
		rpc:     rpcClient,
		opener:  opener,
		log:     logger.Component("pkceflow"),
		metrics: m,
		state:   StateIdle,
	}
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start begins a deep-link flow: generates PKCE material, composes the
// login URL, and hands it to the opener when one is configured. Any
// previous session is superseded.
func (f *Flow) Start(ctx context.Context, provider models.Provider, redirectURI string) (*StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	codes, err := NewCodes()
	if err != nil {
		return nil, err
	}
	if redirectURI == "" {
		redirectURI = f.cfg.DeepLinkRedirectURI
	}

	f.supersede()
	f.sess = &session{
		codes:       codes,
		provider:    provider,
		variant:     VariantDeepLink,
		redirectURI: redirectURI,
	}
	f.state = StateAwaitingCallback

	loginURL := f.loginURL(provider, redirectURI, codes)
	f.log.Info("pkce login started", "provider", string(provider), "variant", string(VariantDeepLink))

	if f.opener != nil {
		if err := f.opener.Open(loginURL); err != nil {
			f.log.Warn("failed to open browser", "error", err.Error())
		}
	}
	return &StartResult{LoginURL: loginURL, State: codes.State}, nil
}

// StartEmbedded runs the embedded variant end to end: opens an isolated
// window, watches its navigations for the redirect URI, and exchanges the
// intercepted code over the CBOR RPC. Blocks until a terminal state.
func (f *Flow) StartEmbedded(ctx context.Context, provider models.Provider, windows WindowOpener) (*Result, error) {
	if windows == nil {
		return nil, &errors.ErrConfiguration{Field: "windows", Reason: "embedded flow requires a window opener"}
	}
	if f.rpc == nil {
		return nil, &errors.ErrConfiguration{Field: "rpc", Reason: "embedded flow requires the RPC client"}
	}

	f.mu.Lock()
	codes, err := NewCodes()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.supersede()
	sess := &session{
		codes:       codes,
		provider:    provider,
		variant:     VariantEmbedded,
		redirectURI: f.cfg.EmbeddedRedirectURI,
	}
	f.sess = sess
	f.state = StateInitiated
	loginURL := f.loginURL(provider, sess.redirectURI, codes)
	f.mu.Unlock()

	win, err := windows.Open(ctx, loginURL)
	if err != nil {
		f.mu.Lock()
		f.finish(StateCancelled)
		f.mu.Unlock()
		return nil, fmt.Errorf("open embedded window: %w", err)
	}

	f.mu.Lock()
	if f.sess != sess {
		// Superseded while the window was opening.
		f.mu.Unlock()
		_ = win.Close()
		return nil, &errors.ErrFlowCancelled{}
	}
	sess.window = win
	f.state = StateAwaitingCallback
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			f.Cancel()
			return nil, ctx.Err()
		case <-win.Closed():
			f.mu.Lock()
			f.finish(StateCancelled)
			f.mu.Unlock()
			return nil, &errors.ErrFlowCancelled{WindowClosed: true}
		case nav := <-win.Navigations():
			if !strings.HasPrefix(nav, sess.redirectURI) {
				continue
			}
			code, state, cbErr := parseCallbackURL(nav)
			_ = win.Close()
			if cbErr != "" {
				f.mu.Lock()
				f.finish(StateDenied)
				f.mu.Unlock()
				return nil, &errors.ErrAuthorizationDenied{Reason: cbErr}
			}
			return f.Complete(ctx, code, state)
		}
	}
}

// Complete finishes the active flow with the callback's code and state.
// A state mismatch is terminal: the session is destroyed and no token
// exchange is attempted.
func (f *Flow) Complete(ctx context.Context, code, state string) (*Result, error) {
	f.mu.Lock()
	sess := f.sess
	if sess == nil {
		f.mu.Unlock()
		return nil, &errors.ErrConfiguration{Field: "session", Reason: "no active pkce flow"}
	}
	if state != sess.codes.State {
		f.finish(StateStateMismatch)
		f.mu.Unlock()
		return nil, &errors.ErrStateMismatch{}
	}
	f.mu.Unlock()

	var (
		tokens *models.RefreshedTokens
		method models.AuthMethod
		err    error
	)
	switch sess.variant {
	case VariantEmbedded:
		method = models.AuthWebOAuth
		tokens, err = f.exchangeRPC(ctx, sess, code)
	default:
		method = models.AuthSocial
		tokens, err = f.exchangeSocial(ctx, sess, code)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == sess {
		if err != nil {
			f.finish(StateDenied)
		} else {
			f.finish(StateExchanged)
		}
	}
	if err != nil {
		return nil, err
	}
	return &Result{Tokens: tokens, Provider: sess.provider, Method: method}, nil
}

// Cancel destroys any active session and closes an owned window. Safe and
// idempotent from any state.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		return
	}
	f.finish(StateCancelled)
	f.log.Info("pkce flow cancelled")
}

// loginURL composes the auth-service /login URL.
func (f *Flow) loginURL(provider models.Provider, redirectURI string, codes *Codes) string {
	q := url.Values{}
	q.Set("idp", provider.IdP())
	q.Set("redirect_uri", redirectURI)
	q.Set("code_challenge", codes.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", codes.State)
	return f.cfg.SocialBaseURL + "/login?" + q.Encode()
}

// supersede tears down any existing session. Callers hold the lock.
func (f *Flow) supersede() {
	if f.sess == nil {
		return
	}
	f.log.Info("superseding active pkce session")
	if f.sess.window != nil {
		_ = f.sess.window.Close()
	}
	f.sess = nil
	f.state = StateIdle
}

// finish records a terminal state, closes any owned window, and destroys
// the session. Callers hold the lock.
func (f *Flow) finish(state State) {
	if f.sess != nil && f.sess.window != nil {
		_ = f.sess.window.Close()
	}
	f.sess = nil
	f.state = state
	if f.metrics != nil {
		f.metrics.FlowTotal.WithLabelValues("pkce", state.String()).Inc()
	}
}

// exchangeSocial trades the code for tokens at the auth-service JSON
// token endpoint.
func (f *Flow) exchangeSocial(ctx context.Context, sess *session, code string) (*models.RefreshedTokens, error) {
	payload, err := json.Marshal(map[string]string{
		"code":         code,
		"codeVerifier": sess.codes.Verifier,
		"redirectUri":  sess.redirectURI,
		"grantType":    "authorization_code",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.SocialBaseURL+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
		CSRFToken    string `json:"csrfToken"`
		ProfileArn   string `json:"profileArn"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("token exchange response: %w", err)
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" {
		return nil, fmt.Errorf("token exchange response missing tokens")
	}
	return &models.RefreshedTokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
		CSRFToken:    parsed.CSRFToken,
		ProfileArn:   parsed.ProfileArn,
	}, nil
}

// exchangeRPC trades the code over the CBOR ExchangeToken operation. The
// session token arrives only in a Set-Cookie header; it is merged with
// the body's fields, the body winning on overlap. A response without the
// cookie is a hard failure.
func (f *Flow) exchangeRPC(ctx context.Context, sess *session, code string) (*models.RefreshedTokens, error) {
	resp, err := f.rpc.Do(ctx, "ExchangeToken", map[string]interface{}{
		"code":         code,
		"codeVerifier": sess.codes.Verifier,
		"redirectUri":  sess.redirectURI,
	}, nil)
	if err != nil {
		return nil, err
	}

	cookieToken := sessionCookieToken(resp.Header)
	if cookieToken == "" {
		return nil, fmt.Errorf("exchange response missing RefreshToken cookie")
	}

	tokens := &models.RefreshedTokens{RefreshToken: cookieToken}
	if v, ok := resp.Body["accessToken"].(string); ok && v != "" {
		tokens.AccessToken = v
	}
	if v, ok := resp.Body["refreshToken"].(string); ok && v != "" {
		tokens.RefreshToken = v
	}
	if v, ok := resp.Body["csrfToken"].(string); ok {
		tokens.CSRFToken = v
	}
	if v, ok := resp.Body["profileArn"].(string); ok {
		tokens.ProfileArn = v
	}
	tokens.ExpiresIn = rpc.IntField(resp.Body, "expiresIn")

	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("exchange response missing accessToken")
	}
	return tokens, nil
}

// sessionCookieToken pulls the RefreshToken value out of the response's
// Set-Cookie headers.
func sessionCookieToken(h http.Header) string {
	for _, raw := range h.Values("Set-Cookie") {
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "RefreshToken=") {
				return strings.TrimPrefix(part, "RefreshToken=")
			}
		}
	}
	return ""
}

// parseCallbackURL extracts code, state, and any error parameter from an
// intercepted redirect.
func parseCallbackURL(raw string) (code, state, errParam string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "unparseable callback url"
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		desc := q.Get("error_description")
		if desc != "" {
			return "", "", e + ": " + desc
		}
		return "", "", e
	}
	return q.Get("code"), q.Get("state"), ""
}
