package pkceflow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/rpc"
)

func TestNewCodes(t *testing.T) {
	codes, err := NewCodes()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(codes.Verifier)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 32)

	sum := sha256.Sum256([]byte(codes.Verifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), codes.Challenge)
	require.NotEmpty(t, codes.State)

	again, err := NewCodes()
	require.NoError(t, err)
	require.NotEqual(t, codes.Verifier, again.Verifier)
	require.NotEqual(t, codes.State, again.State)
}

func TestStartComposesLoginURL(t *testing.T) {
	flow := New(Config{SocialBaseURL: "https://auth.example"}, nil, nil, nil, nil)

	res, err := flow.Start(context.Background(), models.ProviderGoogle, "")
	require.NoError(t, err)

	u, err := url.Parse(res.LoginURL)
	require.NoError(t, err)
	require.Equal(t, "/login", u.Path)
	q := u.Query()
	require.Equal(t, "Google", q.Get("idp"))
	require.Equal(t, "kiro://kiro.kiroagent.kiro-auth/auth-callback", q.Get("redirect_uri"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, res.State, q.Get("state"))
	require.Equal(t, StateAwaitingCallback, flow.State())
}

func TestCompleteStateMismatchSkipsExchange(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
	}))
	defer srv.Close()

	flow := New(Config{SocialBaseURL: srv.URL, HTTPClient: srv.Client()}, nil, nil, nil, nil)
	_, err := flow.Start(context.Background(), models.ProviderGitHub, "")
	require.NoError(t, err)

	_, err = flow.Complete(context.Background(), "auth-code", "forged-state")
	var mismatch *kiroerrors.ErrStateMismatch
	require.ErrorAs(t, err, &mismatch)
	require.EqualValues(t, 0, tokenCalls.Load(), "state mismatch must not trigger a token exchange")
	require.Equal(t, StateStateMismatch, flow.State())

	// The session was destroyed; a retry with the right state is too late.
	_, err = flow.Complete(context.Background(), "auth-code", "anything")
	var cfg *kiroerrors.ErrConfiguration
	require.ErrorAs(t, err, &cfg)
}

func TestCompleteDeepLinkExchange(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "at-1",
			"refreshToken": "rt-1",
			"expiresIn":    3600,
			"csrfToken":    "csrf-1",
			"profileArn":   "arn:aws:p/1",
		})
	}))
	defer srv.Close()

	flow := New(Config{SocialBaseURL: srv.URL, HTTPClient: srv.Client()}, nil, nil, nil, nil)
	start, err := flow.Start(context.Background(), models.ProviderGoogle, "")
	require.NoError(t, err)

	res, err := flow.Complete(context.Background(), "auth-code", start.State)
	require.NoError(t, err)
	require.Equal(t, models.AuthSocial, res.Method)
	require.Equal(t, models.ProviderGoogle, res.Provider)
	require.Equal(t, "at-1", res.Tokens.AccessToken)
	require.Equal(t, "rt-1", res.Tokens.RefreshToken)
	require.Equal(t, "csrf-1", res.Tokens.CSRFToken)
	require.Equal(t, "arn:aws:p/1", res.Tokens.ProfileArn)

	require.Equal(t, "auth-code", gotBody["code"])
	require.NotEmpty(t, gotBody["codeVerifier"])
	require.Equal(t, "authorization_code", gotBody["grantType"])
	require.Equal(t, StateExchanged, flow.State())
}

// fakeWindow simulates an embedded browser window.
type fakeWindow struct {
	navs   chan string
	closed chan struct{}
	once   atomic.Bool
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{navs: make(chan string, 4), closed: make(chan struct{})}
}

func (w *fakeWindow) Navigations() <-chan string { return w.navs }
func (w *fakeWindow) Closed() <-chan struct{}    { return w.closed }
func (w *fakeWindow) Close() error               { return nil }

func (w *fakeWindow) userCloses() {
	if w.once.CompareAndSwap(false, true) {
		close(w.closed)
	}
}

type fakeWindows struct {
	win    *fakeWindow
	opened chan string
}

func (o *fakeWindows) Open(_ context.Context, url string) (BrowserWindow, error) {
	o.opened <- url
	return o.win, nil
}

func newRPCBackend(t *testing.T, handler http.HandlerFunc) (*rpc.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := rpc.NewClient(rpc.Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	return client, srv
}

func TestStartEmbeddedExchangesViaRPC(t *testing.T) {
	rpcClient, _ := newRPCBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ExchangeToken", r.URL.Path)
		raw, _ := cbor.Marshal(map[string]interface{}{
			"accessToken": "at-web",
			"csrfToken":   "csrf-web",
			"profileArn":  "arn:aws:p/web",
			"expiresIn":   1800,
		})
		w.Header().Add("Set-Cookie", "RefreshToken=session-cookie-token; Path=/; HttpOnly")
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(raw)
	})

	windows := &fakeWindows{win: newFakeWindow(), opened: make(chan string, 1)}
	flow := New(Config{SocialBaseURL: "https://auth.example"}, rpcClient, nil, nil, nil)

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		defer close(done)
		res, err = flow.StartEmbedded(context.Background(), models.ProviderGitHub, windows)
	}()

	loginURL := <-windows.opened
	u, perr := url.Parse(loginURL)
	require.NoError(t, perr)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	redirect := u.Query().Get("redirect_uri")
	require.Equal(t, "https://desktop-redirect.kiro.dev/signin-callback", redirect)

	// An unrelated navigation is ignored, then the redirect lands.
	windows.win.navs <- "https://idp.example/consent"
	windows.win.navs <- redirect + "?code=web-code&state=" + url.QueryEscape(state)

	<-done
	require.NoError(t, err)
	require.Equal(t, models.AuthWebOAuth, res.Method)
	require.Equal(t, "at-web", res.Tokens.AccessToken)
	require.Equal(t, "session-cookie-token", res.Tokens.RefreshToken)
	require.Equal(t, "csrf-web", res.Tokens.CSRFToken)
	require.Equal(t, 1800, res.Tokens.ExpiresIn)
}

func TestStartEmbeddedBodyRefreshTokenWins(t *testing.T) {
	rpcClient, _ := newRPCBackend(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := cbor.Marshal(map[string]interface{}{
			"accessToken":  "at-web",
			"refreshToken": "rt-from-body",
		})
		w.Header().Add("Set-Cookie", "RefreshToken=rt-from-cookie; Path=/")
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(raw)
	})

	windows := &fakeWindows{win: newFakeWindow(), opened: make(chan string, 1)}
	flow := New(Config{}, rpcClient, nil, nil, nil)

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		defer close(done)
		res, err = flow.StartEmbedded(context.Background(), models.ProviderGitHub, windows)
	}()

	loginURL := <-windows.opened
	u, _ := url.Parse(loginURL)
	state := u.Query().Get("state")
	redirect := u.Query().Get("redirect_uri")
	windows.win.navs <- redirect + "?code=c&state=" + url.QueryEscape(state)

	<-done
	require.NoError(t, err)
	require.Equal(t, "rt-from-body", res.Tokens.RefreshToken)
}

func TestStartEmbeddedMissingCookieFails(t *testing.T) {
	rpcClient, _ := newRPCBackend(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := cbor.Marshal(map[string]interface{}{
			"accessToken":  "at-web",
			"refreshToken": "rt-from-body",
		})
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(raw)
	})

	windows := &fakeWindows{win: newFakeWindow(), opened: make(chan string, 1)}
	flow := New(Config{}, rpcClient, nil, nil, nil)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = flow.StartEmbedded(context.Background(), models.ProviderGitHub, windows)
	}()

	loginURL := <-windows.opened
	u, _ := url.Parse(loginURL)
	state := u.Query().Get("state")
	redirect := u.Query().Get("redirect_uri")
	windows.win.navs <- redirect + "?code=c&state=" + url.QueryEscape(state)

	<-done
	require.Error(t, err)
	require.Contains(t, err.Error(), "RefreshToken cookie")
}

func TestStartEmbeddedWindowClosedByUser(t *testing.T) {
	windows := &fakeWindows{win: newFakeWindow(), opened: make(chan string, 1)}
	rpcClient, _ := newRPCBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no RPC call expected")
	})
	flow := New(Config{}, rpcClient, nil, nil, nil)

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = flow.StartEmbedded(context.Background(), models.ProviderBuilderID, windows)
	}()

	<-windows.opened
	windows.win.userCloses()

	<-done
	var cancelled *kiroerrors.ErrFlowCancelled
	require.ErrorAs(t, err, &cancelled)
	require.True(t, cancelled.WindowClosed)
	require.Equal(t, StateCancelled, flow.State())
}

func TestCancelIsIdempotent(t *testing.T) {
	flow := New(Config{}, nil, nil, nil, nil)
	flow.Cancel() // nothing active

	_, err := flow.Start(context.Background(), models.ProviderGoogle, "")
	require.NoError(t, err)
	flow.Cancel()
	require.Equal(t, StateCancelled, flow.State())
	flow.Cancel()
	require.Equal(t, StateCancelled, flow.State())
}

func TestStartSupersedesActiveSession(t *testing.T) {
	flow := New(Config{}, nil, nil, nil, nil)

	first, err := flow.Start(context.Background(), models.ProviderGoogle, "")
	require.NoError(t, err)
	second, err := flow.Start(context.Background(), models.ProviderGitHub, "")
	require.NoError(t, err)
	require.NotEqual(t, first.State, second.State)

	// The first session's state no longer matches.
	_, err = flow.Complete(context.Background(), "code", first.State)
	var mismatch *kiroerrors.ErrStateMismatch
	require.ErrorAs(t, err, &mismatch)
}
