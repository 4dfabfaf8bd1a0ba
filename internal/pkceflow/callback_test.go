package pkceflow

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallbackServerDeliversFirstCallback(t *testing.T) {
	srv := NewCallbackServer(0, nil)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Shutdown(context.Background()) }()

	uri := srv.RedirectURI()
	resp, err := http.Get(uri + "?code=cb-code&state=cb-state")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "close this window")

	// A straggler hit must not block.
	resp, err = http.Get(uri + "?code=late&state=late")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := srv.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "cb-code", res.Code)
	require.Equal(t, "cb-state", res.State)
	require.Empty(t, res.Err)
}

func TestCallbackServerWaitHonorsContext(t *testing.T) {
	srv := NewCallbackServer(0, nil)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := srv.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
