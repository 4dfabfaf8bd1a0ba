package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/rpc"
)

// refreshOIDC exchanges the stored OIDC refresh token at the region-scoped
// token endpoint. This is a plain-JSON call, not CBOR.
func (r *Refresher) refreshOIDC(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error) {
	region := bundle.Region
	if region == "" {
		region = r.cfg.DefaultRegion
	}
	url := fmt.Sprintf(r.cfg.OIDCBaseURLTmpl, region) + "/token"

	payload := map[string]string{
		"clientId":     bundle.ClientID,
		"clientSecret": bundle.ClientSecret,
		"refreshToken": bundle.RefreshToken,
		"grantType":    "refresh_token",
	}

	var parsed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := r.postJSON(ctx, url, payload, nil, &parsed); err != nil {
		return nil, &errors.ErrRefresh{Method: string(models.AuthOIDC), Err: err}
	}
	if parsed.AccessToken == "" {
		return nil, &errors.ErrRefresh{Method: string(models.AuthOIDC), Err: fmt.Errorf("token response missing accessToken")}
	}

	tokens := &models.RefreshedTokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
	}
	// The endpoint may omit a new refresh token; the old one stays valid.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = bundle.RefreshToken
	}
	return tokens, nil
}

// refreshSocial exchanges the session refresh token at the fixed
// auth-service endpoint. The user agent is version-pinned; the backend
// rejects anything else.
func (r *Refresher) refreshSocial(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error) {
	url := strings.TrimRight(r.cfg.SocialBaseURL, "/") + "/refreshToken"
	payload := map[string]string{"refreshToken": bundle.RefreshToken}
	header := http.Header{"User-Agent": []string{SocialRefreshUserAgent}}

	var parsed struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
		CSRFToken    string `json:"csrfToken"`
		ProfileArn   string `json:"profileArn"`
	}
	if err := r.postJSON(ctx, url, payload, header, &parsed); err != nil {
		return nil, &errors.ErrRefresh{Method: string(models.AuthSocial), Err: err}
	}
	if parsed.AccessToken == "" {
		return nil, &errors.ErrRefresh{Method: string(models.AuthSocial), Err: fmt.Errorf("refresh response missing accessToken")}
	}

	tokens := &models.RefreshedTokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
		CSRFToken:    parsed.CSRFToken,
		ProfileArn:   parsed.ProfileArn,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = bundle.RefreshToken
	}
	return tokens, nil
}

// refreshCookieRPC rotates a web-OAuth access token over the CBOR RPC
// channel. Auth is a synthetic cookie instead of Bearer; the session token
// in the cookie never changes across refreshes, only the access and CSRF
// tokens rotate.
func (r *Refresher) refreshCookieRPC(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error) {
	if r.rpc == nil {
		return nil, &errors.ErrConfiguration{Field: "rpc", Reason: "weboauth refresh requires the rpc client"}
	}

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("AccessToken=%s; RefreshToken=%s; Idp=%s",
		bundle.AccessToken, bundle.RefreshToken, bundle.IdP()))
	header.Set("x-csrf-token", bundle.CSRFToken)

	body := map[string]interface{}{
		"csrfToken": bundle.CSRFToken,
	}

	resp, err := r.rpc.Do(ctx, "RefreshToken", body, header)
	if err != nil {
		return nil, &errors.ErrRefresh{Method: string(models.AuthWebOAuth), Err: err}
	}

	accessToken, _ := resp.Body["accessToken"].(string)
	if accessToken == "" {
		return nil, &errors.ErrRefresh{Method: string(models.AuthWebOAuth), Err: fmt.Errorf("refresh response missing accessToken")}
	}
	csrfToken, _ := resp.Body["csrfToken"].(string)

	return &models.RefreshedTokens{
		AccessToken: accessToken,
		// The session token itself does not rotate.
		RefreshToken: bundle.RefreshToken,
		ExpiresIn:    rpc.IntField(resp.Body, "expiresIn"),
		CSRFToken:    csrfToken,
	}, nil
}

func (r *Refresher) postJSON(ctx context.Context, url string, payload interface{}, header http.Header, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenEndpointError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

// tokenEndpointError keeps the endpoint's own message intact so it reaches
// the caller verbatim.
func tokenEndpointError(status int, body []byte) error {
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)

	switch {
	case parsed.Error != "" && parsed.ErrorDescription != "":
		return fmt.Errorf("%s: %s", parsed.Error, parsed.ErrorDescription)
	case parsed.Error != "":
		return fmt.Errorf("%s", parsed.Error)
	case parsed.Message != "":
		return fmt.Errorf("%s", parsed.Message)
	default:
		return fmt.Errorf("token endpoint status %d", status)
	}
}
