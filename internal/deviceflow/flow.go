// Package deviceflow implements the OIDC device-code grant against the
// region-scoped OIDC service: register a public client, request a device
// code, then poll the token endpoint while the user authorizes in a
// browser. At most one device authorization session exists per process;
// starting a new one supersedes and tears down the previous one.
package deviceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/models"
)

// State tracks the device authorization lifecycle.
type State int

const (
	StateIdle State = iota
	StateClientRegistered
	StateDeviceCodeIssued
	StatePolling
	StateCompleted
	StateDenied
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClientRegistered:
		return "client_registered"
	case StateDeviceCodeIssued:
		return "device_code_issued"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// The backend capability scopes a registered client asks for.
var scopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
	"codewhisperer:taskassist",
	"codewhisperer:transformations",
}

const (
	deviceGrantType   = "urn:ietf:params:oauth:grant-type:device_code"
	defaultSessionTTL = 600 * time.Second
	defaultInterval   = 5
	slowDownStep      = 5
)

// Doer abstracts the HTTP client; the production client mimics a browser
// because these endpoints sit behind the SSO front.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the flow endpoints.
type Config struct {
	// BaseURLTmpl renders the region-scoped OIDC base, %s = region.
	BaseURLTmpl string
	// DefaultRegion is used when Start receives an empty region.
	DefaultRegion string
	// StartURL is the SSO start page the device code is scoped to.
	StartURL string
	// ClientName identifies the registered OIDC client.
	ClientName string
	// SessionTTL bounds a session client-side; the server's expiresIn
	// wins when shorter.
	SessionTTL time.Duration
	HTTPClient Doer
}

type session struct {
	region          string
	clientID        string
	clientSecret    string
	deviceCode      string
	userCode        string
	verificationURI string
	interval        int
	expiresAt       time.Time
}

// StartResult is handed to the caller, which opens VerificationURI in a
// browser and then polls at Interval seconds.
type StartResult struct {
	UserCode        string
	VerificationURI string
	ExpiresIn       int
	Interval        int
}

// TokenResult is the terminal output of a completed flow. ClientID and
// ClientSecret belong in the resulting OIDC credential bundle so the
// account can refresh later.
type TokenResult struct {
	Tokens       *models.RefreshedTokens
	ClientID     string
	ClientSecret string
	Region       string
}

// PollResult reports one poll iteration. When Done is false the caller
// re-reads Interval before scheduling the next tick: the backend may have
// asked to slow down.
type PollResult struct {
	Done     bool
	Interval int
	Result   *TokenResult
}

// Flow is the process-wide device authorization slot.
type Flow struct {
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
	sess  *session
}

// New creates the flow slot.
func New(cfg Config, logger *logging.Logger, m *metrics.Metrics) *Flow {
	if cfg.BaseURLTmpl == "" {
		cfg.BaseURLTmpl = "https://oidc.%s.amazonaws.com"
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "us-east-1"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "https://view.awsapps.com/start"
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "Kiro IDE"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Flow{
		cfg:     cfg,
		log:     logger.Component("deviceflow"),
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

// Start registers an OIDC public client and requests a device code. Any
// previous unfinished session is superseded.
func (f *Flow) Start(ctx context.Context, region string) (*StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sess != nil {
		f.log.Info("superseding active device authorization session")
		f.sess = nil
	}
	f.state = StateIdle

	if region == "" {
		region = f.cfg.DefaultRegion
	}
	base := fmt.Sprintf(f.cfg.BaseURLTmpl, region)

	clientID, clientSecret, err := f.registerClient(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("client registration failed: %w", err)
	}
	f.state = StateClientRegistered

	sess, err := f.requestDeviceCode(ctx, base, region, clientID, clientSecret)
	if err != nil {
		f.state = StateIdle
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}

	f.sess = sess
	f.state = StateDeviceCodeIssued
	f.log.Info("device authorization started",
		"region", region,
		"user_code", sess.userCode,
		"interval", sess.interval,
	)

	return &StartResult{
		UserCode:        sess.userCode,
		VerificationURI: sess.verificationURI,
		ExpiresIn:       int(time.Until(sess.expiresAt).Seconds()),
		Interval:        sess.interval,
	}, nil
}

// Poll queries the token endpoint once. The session TTL is enforced
// locally first: an expired session fails without a network call. The lock
// is not held across the request, so Cancel stays responsive mid-poll.
func (f *Flow) Poll(ctx context.Context) (*PollResult, error) {
	f.mu.Lock()
	if f.sess == nil {
		f.mu.Unlock()
		return nil, &errors.ErrConfiguration{Field: "session", Reason: "no active device authorization"}
	}
	if time.Now().After(f.sess.expiresAt) {
		f.finish(StateExpired)
		f.mu.Unlock()
		return nil, &errors.ErrFlowExpired{Flow: "device authorization"}
	}
	f.state = StatePolling
	sess := f.sess
	interval := sess.interval
	f.mu.Unlock()

	base := fmt.Sprintf(f.cfg.BaseURLTmpl, sess.region)
	status, body, err := f.post(ctx, base+"/token", map[string]interface{}{
		"clientId":     sess.clientID,
		"clientSecret": sess.clientSecret,
		"deviceCode":   sess.deviceCode,
		"grantType":    deviceGrantType,
	})
	if err != nil {
		return nil, err
	}

	if status >= 200 && status < 300 {
		var parsed struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
			ExpiresIn    int    `json:"expiresIn"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("token response: %w", err)
		}
		if parsed.AccessToken == "" {
			return nil, fmt.Errorf("token response missing accessToken")
		}
		result := &TokenResult{
			Tokens: &models.RefreshedTokens{
				AccessToken:  parsed.AccessToken,
				RefreshToken: parsed.RefreshToken,
				ExpiresIn:    parsed.ExpiresIn,
			},
			ClientID:     sess.clientID,
			ClientSecret: sess.clientSecret,
			Region:       sess.region,
		}
		f.resolve(sess, StateCompleted)
		return &PollResult{Done: true, Result: result}, nil
	}

	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &oauthErr)

	switch oauthErr.Error {
	case "authorization_pending":
		return &PollResult{Done: false, Interval: interval}, nil
	case "slow_down":
		f.mu.Lock()
		sess.interval += slowDownStep
		interval = sess.interval
		f.mu.Unlock()
		f.log.Debug("token endpoint asked to slow down", "interval", interval)
		return &PollResult{Done: false, Interval: interval}, nil
	case "expired_token":
		f.resolve(sess, StateExpired)
		return nil, &errors.ErrFlowExpired{Flow: "device authorization"}
	case "access_denied":
		f.resolve(sess, StateDenied)
		return nil, &errors.ErrAuthorizationDenied{Reason: oauthErr.ErrorDescription}
	default:
		return nil, fmt.Errorf("token endpoint status %d: %s", status, oauthErr.Error)
	}
}

// resolve records a terminal state unless the session was superseded or
// cancelled while the lock was released.
func (f *Flow) resolve(sess *session, state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == sess {
		f.finish(state)
	}
}

// Wait polls on the flow's interval until the session resolves. Intended
// for callers without their own timer; respects slow_down by re-reading
// the interval each tick.
func (f *Flow) Wait(ctx context.Context) (*TokenResult, error) {
	for {
		res, err := f.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return res.Result, nil
		}

		select {
		case <-ctx.Done():
			f.Cancel()
			return nil, ctx.Err()
		case <-time.After(time.Duration(res.Interval) * time.Second):
		}
	}
}

// AcceptUserCode pre-accepts the session's user code server-side, so a
// browser driven by automation lands directly on the consent page instead
// of the code-entry form. Best effort for interactive logins; the poll
// loop works the same either way.
func (f *Flow) AcceptUserCode(ctx context.Context) error {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess == nil {
		return &errors.ErrConfiguration{Field: "session", Reason: "no active device authorization"}
	}

	base := fmt.Sprintf(f.cfg.BaseURLTmpl, sess.region)
	status, body, err := f.post(ctx, base+"/device_authorization/accept_user_code", map[string]interface{}{
		"clientId":     sess.clientID,
		"clientSecret": sess.clientSecret,
		"deviceCode":   sess.deviceCode,
		"userCode":     sess.userCode,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return oidcEndpointError(status, body)
	}
	return nil
}

// AssociateToken binds a freshly issued token to the SSO start URL the
// session was scoped to. Some backends require this before the token is
// usable; failures are surfaced for the caller to decide on.
func (f *Flow) AssociateToken(ctx context.Context, region, accessToken string) error {
	if region == "" {
		region = f.cfg.DefaultRegion
	}
	base := fmt.Sprintf(f.cfg.BaseURLTmpl, region)
	status, body, err := f.post(ctx, base+"/device_authorization/associate_token", map[string]interface{}{
		"startUrl":    f.cfg.StartURL,
		"accessToken": accessToken,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return oidcEndpointError(status, body)
	}
	return nil
}

// Cancel destroys any active session. Safe to call from any state and
// idempotent.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sess == nil && f.state != StatePolling {
		return
	}
	f.finish(StateCancelled)
	f.log.Info("device authorization cancelled")
}

// finish records a terminal state and destroys the session. Callers hold
// the lock.
func (f *Flow) finish(state State) {
	f.sess = nil
	f.state = state
	if f.metrics != nil {
		f.metrics.FlowTotal.WithLabelValues("device", state.String()).Inc()
	}
}

func (f *Flow) registerClient(ctx context.Context, base string) (string, string, error) {
	status, body, err := f.post(ctx, base+"/client/register", map[string]interface{}{
		"clientName": f.cfg.ClientName,
		"clientType": "public",
		"scopes":     scopes,
		"grantTypes": []string{deviceGrantType, "refresh_token"},
	})
	if err != nil {
		return "", "", err
	}
	if status < 200 || status >= 300 {
		return "", "", oidcEndpointError(status, body)
	}

	var parsed struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", err
	}
	if parsed.ClientID == "" || parsed.ClientSecret == "" {
		return "", "", fmt.Errorf("registration response missing client credentials")
	}
	return parsed.ClientID, parsed.ClientSecret, nil
}

func (f *Flow) requestDeviceCode(ctx context.Context, base, region, clientID, clientSecret string) (*session, error) {
	status, body, err := f.post(ctx, base+"/device_authorization", map[string]interface{}{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"startUrl":     f.cfg.StartURL,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, oidcEndpointError(status, body)
	}

	var parsed struct {
		DeviceCode              string `json:"deviceCode"`
		UserCode                string `json:"userCode"`
		VerificationURI         string `json:"verificationUri"`
		VerificationURIComplete string `json:"verificationUriComplete"`
		ExpiresIn               int    `json:"expiresIn"`
		Interval                int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if parsed.DeviceCode == "" || parsed.UserCode == "" {
		return nil, fmt.Errorf("device authorization response missing codes")
	}

	verificationURI := parsed.VerificationURIComplete
	if verificationURI == "" {
		verificationURI = parsed.VerificationURI
	}
	interval := parsed.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ttl := f.cfg.SessionTTL
	if parsed.ExpiresIn > 0 {
		serverTTL := time.Duration(parsed.ExpiresIn) * time.Second
		if serverTTL < ttl {
			ttl = serverTTL
		}
	}

	return &session{
		region:          region,
		clientID:        clientID,
		clientSecret:    clientSecret,
		deviceCode:      parsed.DeviceCode,
		userCode:        parsed.UserCode,
		verificationURI: verificationURI,
		interval:        interval,
		expiresAt:       time.Now().Add(ttl),
	}, nil
}

func (f *Flow) post(ctx context.Context, url string, payload map[string]interface{}) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func oidcEndpointError(status int, body []byte) error {
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &parsed)
	if parsed.Error != "" {
		msg := parsed.Error
		if parsed.ErrorDescription != "" {
			msg = msg + ": " + parsed.ErrorDescription
		}
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("oidc endpoint status %d: %s", status, strings.TrimSpace(string(body)))
}
