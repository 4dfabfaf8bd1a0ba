package deviceflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
)

type oidcStub struct {
	t *testing.T

	registerCalls  atomic.Int64
	deviceCalls    atomic.Int64
	acceptCalls    atomic.Int64
	associateCalls atomic.Int64
	tokenCalls     atomic.Int64
	tokenResponses []tokenResponse
	tokenGate      chan struct{}
	expiresIn      int
}

type tokenResponse struct {
	status int
	body   map[string]interface{}
}

func (s *oidcStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/client/register", func(w http.ResponseWriter, r *http.Request) {
		s.registerCalls.Add(1)
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, "public", req["clientType"])
		require.Len(s.t, req["scopes"], 5)
		writeJSON(w, 200, map[string]interface{}{
			"clientId":     "cid-1",
			"clientSecret": "cs-1",
		})
	})
	mux.HandleFunc("/device_authorization", func(w http.ResponseWriter, r *http.Request) {
		s.deviceCalls.Add(1)
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, "cid-1", req["clientId"])
		require.NotEmpty(s.t, req["startUrl"])
		expiresIn := s.expiresIn
		if expiresIn == 0 {
			expiresIn = 600
		}
		writeJSON(w, 200, map[string]interface{}{
			"deviceCode":              "dev-code",
			"userCode":                "ABCD-1234",
			"verificationUriComplete": "https://device.sso.example/?user_code=ABCD-1234",
			"expiresIn":               expiresIn,
			"interval":                5,
		})
	})
	mux.HandleFunc("/device_authorization/accept_user_code", func(w http.ResponseWriter, r *http.Request) {
		s.acceptCalls.Add(1)
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, "dev-code", req["deviceCode"])
		require.Equal(s.t, "ABCD-1234", req["userCode"])
		writeJSON(w, 200, map[string]interface{}{})
	})
	mux.HandleFunc("/device_authorization/associate_token", func(w http.ResponseWriter, r *http.Request) {
		s.associateCalls.Add(1)
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(s.t, req["startUrl"])
		require.NotEmpty(s.t, req["accessToken"])
		writeJSON(w, 200, map[string]interface{}{})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := s.tokenCalls.Add(1)
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, "dev-code", req["deviceCode"])
		require.Equal(s.t, "urn:ietf:params:oauth:grant-type:device_code", req["grantType"])
		if s.tokenGate != nil {
			<-s.tokenGate
		}
		resp := s.tokenResponses[int(n)-1]
		writeJSON(w, resp.status, resp.body)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestFlow(t *testing.T, stub *oidcStub) *Flow {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURLTmpl:   srv.URL + "%.0s", // drop the region from the URL
		DefaultRegion: "us-east-1",
		StartURL:      "https://view.awsapps.com/start",
		HTTPClient:    srv.Client(),
	}, nil, nil)
}

func TestStartRegistersClientAndIssuesCode(t *testing.T) {
	stub := &oidcStub{t: t}
	flow := newTestFlow(t, stub)

	res, err := flow.Start(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "ABCD-1234", res.UserCode)
	require.Equal(t, "https://device.sso.example/?user_code=ABCD-1234", res.VerificationURI)
	require.Equal(t, 5, res.Interval)
	require.Equal(t, StateDeviceCodeIssued, flow.State())
	require.EqualValues(t, 1, stub.registerCalls.Load())
	require.EqualValues(t, 1, stub.deviceCalls.Load())
}

func TestPollPendingThenCompleted(t *testing.T) {
	stub := &oidcStub{t: t, tokenResponses: []tokenResponse{
		{400, map[string]interface{}{"error": "authorization_pending"}},
		{200, map[string]interface{}{
			"accessToken":  "at-new",
			"refreshToken": "rt-new",
			"expiresIn":    3600,
		}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "us-east-1")
	require.NoError(t, err)

	res, err := flow.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 5, res.Interval)

	res, err = flow.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "at-new", res.Result.Tokens.AccessToken)
	require.Equal(t, "rt-new", res.Result.Tokens.RefreshToken)
	require.Equal(t, 3600, res.Result.Tokens.ExpiresIn)
	require.Equal(t, "cid-1", res.Result.ClientID)
	require.Equal(t, "cs-1", res.Result.ClientSecret)
	require.Equal(t, "us-east-1", res.Result.Region)
	require.Equal(t, StateCompleted, flow.State())
}

func TestPollSlowDownGrowsInterval(t *testing.T) {
	stub := &oidcStub{t: t, tokenResponses: []tokenResponse{
		{400, map[string]interface{}{"error": "slow_down"}},
		{400, map[string]interface{}{"error": "slow_down"}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	res, err := flow.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, res.Interval)

	res, err = flow.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 15, res.Interval)
}

func TestPollAccessDenied(t *testing.T) {
	stub := &oidcStub{t: t, tokenResponses: []tokenResponse{
		{400, map[string]interface{}{"error": "access_denied", "error_description": "user declined"}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = flow.Poll(context.Background())
	var denied *kiroerrors.ErrAuthorizationDenied
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "user declined", denied.Reason)
	require.Equal(t, StateDenied, flow.State())
}

func TestPollExpiredTokenFromServer(t *testing.T) {
	stub := &oidcStub{t: t, tokenResponses: []tokenResponse{
		{400, map[string]interface{}{"error": "expired_token"}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = flow.Poll(context.Background())
	var expired *kiroerrors.ErrFlowExpired
	require.ErrorAs(t, err, &expired)
	require.Equal(t, StateExpired, flow.State())
}

func TestExpiredSessionFailsWithoutNetwork(t *testing.T) {
	stub := &oidcStub{t: t, expiresIn: 1}
	flow := newTestFlow(t, stub)
	flow.cfg.SessionTTL = time.Millisecond

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = flow.Poll(context.Background())
	var expired *kiroerrors.ErrFlowExpired
	require.ErrorAs(t, err, &expired)
	require.EqualValues(t, 0, stub.tokenCalls.Load(), "expired session must not hit the token endpoint")
	require.Equal(t, StateExpired, flow.State())
}

func TestCancelIsIdempotent(t *testing.T) {
	stub := &oidcStub{t: t}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	flow.Cancel()
	require.Equal(t, StateCancelled, flow.State())
	flow.Cancel()
	require.Equal(t, StateCancelled, flow.State())

	_, err = flow.Poll(context.Background())
	var cfg *kiroerrors.ErrConfiguration
	require.ErrorAs(t, err, &cfg)
}

func TestCancelNotBlockedByInFlightPoll(t *testing.T) {
	gate := make(chan struct{})
	stub := &oidcStub{t: t, tokenGate: gate, tokenResponses: []tokenResponse{
		{400, map[string]interface{}{"error": "authorization_pending"}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)

	pollDone := make(chan error, 1)
	go func() {
		_, err := flow.Poll(context.Background())
		pollDone <- err
	}()
	require.Eventually(t, func() bool {
		return stub.tokenCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancelled := make(chan struct{})
	go func() {
		flow.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Cancel blocked behind the in-flight poll")
	}
	require.Equal(t, StateCancelled, flow.State())

	close(gate)
	require.NoError(t, <-pollDone)
	require.Equal(t, StateCancelled, flow.State())

	_, err = flow.Poll(context.Background())
	var cfg *kiroerrors.ErrConfiguration
	require.ErrorAs(t, err, &cfg)
}

func TestAcceptUserCode(t *testing.T) {
	stub := &oidcStub{t: t}
	flow := newTestFlow(t, stub)

	// Without a session it fails fast.
	err := flow.AcceptUserCode(context.Background())
	var cfg *kiroerrors.ErrConfiguration
	require.ErrorAs(t, err, &cfg)

	_, err = flow.Start(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, flow.AcceptUserCode(context.Background()))
	require.EqualValues(t, 1, stub.acceptCalls.Load())
}

func TestAssociateToken(t *testing.T) {
	stub := &oidcStub{t: t}
	flow := newTestFlow(t, stub)

	require.NoError(t, flow.AssociateToken(context.Background(), "", "at-new"))
	require.EqualValues(t, 1, stub.associateCalls.Load())
}

func TestStartSupersedesActiveSession(t *testing.T) {
	stub := &oidcStub{t: t, tokenResponses: []tokenResponse{
		{200, map[string]interface{}{"accessToken": "at", "refreshToken": "rt", "expiresIn": 60}},
	}}
	flow := newTestFlow(t, stub)

	_, err := flow.Start(context.Background(), "")
	require.NoError(t, err)
	_, err = flow.Start(context.Background(), "")
	require.NoError(t, err)
	require.EqualValues(t, 2, stub.registerCalls.Load())

	res, err := flow.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, res.Done)
}
