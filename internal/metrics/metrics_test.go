package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	m := NewMetrics("kirocloud")
	m.RefreshTotal.WithLabelValues("oidc", "success").Inc()
	m.VerifyTotal.WithLabelValues("failure").Inc()
	m.ReauthRequired.Set(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "kirocloud_refresh_total")
	require.Contains(t, body, "kirocloud_verify_total")
	require.Contains(t, body, "kirocloud_reauth_required_accounts 2")
}
