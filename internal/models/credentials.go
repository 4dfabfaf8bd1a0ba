package models

import (
	"fmt"
	"strings"
	"time"
)

// AuthMethod identifies which of the three authentication schemes an
// account was created with. The set is closed: refresh and verification
// code dispatches exhaustively on these values.
type AuthMethod string

const (
	// AuthOIDC is the device-code flow scheme backed by a region-scoped
	// OIDC client registration.
	AuthOIDC AuthMethod = "oidc"
	// AuthSocial is the cookie/social scheme refreshed against the auth
	// service with a plain refresh token.
	AuthSocial AuthMethod = "social"
	// AuthWebOAuth is the incognito web-OAuth scheme refreshed over the
	// CBOR RPC channel with a session cookie and CSRF token.
	AuthWebOAuth AuthMethod = "weboauth"
)

// Provider represents the identity provider an account signed in with.
type Provider string

const (
	ProviderBuilderID Provider = "BuilderId"
	ProviderGitHub    Provider = "Github"
	ProviderGoogle    Provider = "Google"
)

// IdP returns the wire-level identity provider string.
func (p Provider) IdP() string {
	return string(p)
}

// CredentialBundle stores the per-account secret material produced by the
// login flows and rotated by the token refresher. The engine never persists
// bundles itself; storage belongs to the surrounding account repository.
type CredentialBundle struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	CSRFToken    string     `json:"csrf_token,omitempty"`
	ProfileArn   string     `json:"profile_arn,omitempty"`
	Region       string     `json:"region,omitempty"`
	ExpiresAt    int64      `json:"expires_at,omitempty"` // epoch millis
	AuthMethod   AuthMethod `json:"auth_method"`
	Provider     Provider   `json:"provider"`
}

// Validate checks the scheme invariants: OIDC bundles always carry a client
// registration, WebOAuth bundles need a CSRF token to be refreshable.
func (b *CredentialBundle) Validate() error {
	if strings.TrimSpace(b.AccessToken) == "" {
		return fmt.Errorf("access token is required")
	}
	switch b.AuthMethod {
	case AuthOIDC:
		if b.ClientID == "" || b.ClientSecret == "" {
			return fmt.Errorf("oidc bundle requires client_id and client_secret")
		}
	case AuthSocial:
	case AuthWebOAuth:
		if b.CSRFToken == "" {
			return fmt.Errorf("weboauth bundle requires csrf_token")
		}
	default:
		return fmt.Errorf("unknown auth method: %s", b.AuthMethod)
	}
	return nil
}

// CanRefresh reports whether the bundle carries enough material for its
// scheme's refresh strategy. It performs no network calls.
func (b *CredentialBundle) CanRefresh() bool {
	if strings.TrimSpace(b.RefreshToken) == "" {
		return false
	}
	switch b.AuthMethod {
	case AuthOIDC:
		return b.ClientID != "" && b.ClientSecret != ""
	case AuthSocial:
		return true
	case AuthWebOAuth:
		return b.CSRFToken != "" && b.AccessToken != ""
	default:
		return false
	}
}

// Expired reports whether the access token has passed its expiry.
func (b *CredentialBundle) Expired(now time.Time) bool {
	if b.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= b.ExpiresAt
}

// IdP returns the wire-level identity provider string for the bundle.
func (b *CredentialBundle) IdP() string {
	return b.Provider.IdP()
}

// RefreshedTokens is the output of a successful refresh. RefreshToken is
// always populated: strategies carry the old token forward when the backend
// omits a new one.
type RefreshedTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	CSRFToken    string `json:"csrf_token,omitempty"`
	ProfileArn   string `json:"profile_arn,omitempty"`
}

// Apply writes the refreshed tokens into the bundle. Only the fields a
// refresh can rotate are touched; the empty refresh token case keeps the
// previous one unchanged.
func (b *CredentialBundle) Apply(t *RefreshedTokens, now time.Time) {
	b.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		b.RefreshToken = t.RefreshToken
	}
	if t.CSRFToken != "" {
		b.CSRFToken = t.CSRFToken
	}
	if t.ProfileArn != "" {
		b.ProfileArn = t.ProfileArn
	}
	if t.ExpiresIn > 0 {
		b.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UnixMilli()
	}
}
