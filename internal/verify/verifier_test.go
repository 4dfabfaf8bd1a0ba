package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/models"
)

// fakeRPC resolves operations from canned responses.
type fakeRPC struct {
	responses map[string]map[string]interface{}
	errs      map[string]error
	calls     map[string]int
	gotToken  string
	gotIdP    string
}

func (f *fakeRPC) Call(_ context.Context, op string, _ map[string]interface{}, accessToken, idp string) (map[string]interface{}, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	f.gotToken = accessToken
	f.gotIdP = idp
	if err := f.errs[op]; err != nil {
		return nil, err
	}
	return f.responses[op], nil
}

func usageResponse() map[string]interface{} {
	return map[string]interface{}{
		"subscriptionTitle": "Kiro Pro (Monthly)",
		"daysRemaining":     12,
		"nextResetDate":     int64(1767225600000),
		"breakdownList": []interface{}{
			map[string]interface{}{
				"resourceType": "CHAT",
				"usageLimit":   9999,
				"currentUsage": 1,
			},
			map[string]interface{}{
				"resourceType": "CREDIT",
				"usageLimit":   100,
				"currentUsage": 10,
				"freeTrial": map[string]interface{}{
					"status":       "ACTIVE",
					"usageLimit":   50,
					"currentUsage": 5,
					"expiresAt":    int64(1767225600000),
				},
				"bonuses": []interface{}{
					map[string]interface{}{
						"name":         "launch-promo",
						"status":       "ACTIVE",
						"usageLimit":   20,
						"currentUsage": 0,
					},
					map[string]interface{}{
						"name":         "expired-promo",
						"status":       "EXPIRED",
						"usageLimit":   500,
						"currentUsage": 400,
					},
				},
			},
		},
	}
}

func TestVerifyBuildsSnapshot(t *testing.T) {
	rpc := &fakeRPC{responses: map[string]map[string]interface{}{
		"GetUserInfo":    {"email": "dev@example.com", "userId": "user-1"},
		"GetUsageLimits": usageResponse(),
	}}
	v := NewVerifier(rpc, nil, nil)

	snap, err := v.Verify(context.Background(), "at-1", "BuilderId")
	require.NoError(t, err)
	require.Equal(t, "at-1", rpc.gotToken)
	require.Equal(t, "BuilderId", rpc.gotIdP)

	require.Equal(t, "dev@example.com", snap.Email)
	require.Equal(t, "user-1", snap.UserID)
	require.Equal(t, "BuilderId", snap.IdP)
	require.Equal(t, 2, snap.HeaderVersion)
	require.Equal(t, models.SubscriptionPro, snap.SubscriptionType)
	require.Equal(t, "Kiro Pro (Monthly)", snap.SubscriptionTitle)
	require.Equal(t, 12, snap.DaysRemaining)
	require.NotNil(t, snap.NextResetDate)
	require.Equal(t, time.UnixMilli(1767225600000).UTC(), *snap.NextResetDate)

	// Base 100/10 + active trial 50/5 + active bonus 20/0; the expired
	// bonus is listed but excluded from the totals.
	require.Equal(t, 170, snap.Usage.TotalLimit)
	require.Equal(t, 15, snap.Usage.TotalCurrent)
	require.Equal(t, models.QuotaComponent{Limit: 100, Current: 10}, snap.Usage.Base)
	require.NotNil(t, snap.Usage.FreeTrial)
	require.Equal(t, 50, snap.Usage.FreeTrial.Limit)
	require.Len(t, snap.Usage.Bonuses, 2)
	require.Equal(t, "launch-promo", snap.Usage.Bonuses[0].Name)
}

func TestVerifyToleratesIdentityFailure(t *testing.T) {
	rpc := &fakeRPC{
		responses: map[string]map[string]interface{}{"GetUsageLimits": usageResponse()},
		errs:      map[string]error{"GetUserInfo": &kiroerrors.ErrProtocol{HTTPStatus: 500, Message: "boom"}},
	}
	v := NewVerifier(rpc, nil, nil)

	snap, err := v.Verify(context.Background(), "at-1", "Github")
	require.NoError(t, err)
	require.Empty(t, snap.Email)
	require.Empty(t, snap.UserID)
	require.Equal(t, 1, snap.HeaderVersion)
	require.Equal(t, 170, snap.Usage.TotalLimit)
}

func TestVerifyUsageFailureIsFatal(t *testing.T) {
	wantErr := &kiroerrors.ErrAuthorizationExpired{Message: "token expired"}
	rpc := &fakeRPC{
		responses: map[string]map[string]interface{}{"GetUserInfo": {"email": "dev@example.com"}},
		errs:      map[string]error{"GetUsageLimits": wantErr},
	}
	v := NewVerifier(rpc, nil, nil)

	_, err := v.Verify(context.Background(), "at-1", "Github")
	require.True(t, kiroerrors.IsAuthorizationExpired(err))
}

func TestVerifyMissingCreditLine(t *testing.T) {
	rpc := &fakeRPC{responses: map[string]map[string]interface{}{
		"GetUserInfo": {},
		"GetUsageLimits": {
			"subscriptionTitle": "Kiro Free",
			"breakdownList":     []interface{}{},
		},
	}}
	v := NewVerifier(rpc, nil, nil)

	_, err := v.Verify(context.Background(), "at-1", "Github")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CREDIT")
}

func TestVerifyHeaderVersions(t *testing.T) {
	for idp, want := range map[string]int{
		"BuilderId": 2,
		"Google":    2,
		"Github":    1,
		"Mystery":   1,
	} {
		rpc := &fakeRPC{responses: map[string]map[string]interface{}{
			"GetUserInfo":    {},
			"GetUsageLimits": usageResponse(),
		}}
		snap, err := NewVerifier(rpc, nil, nil).Verify(context.Background(), "at", idp)
		require.NoError(t, err)
		require.Equal(t, want, snap.HeaderVersion, "idp %s", idp)
	}
}
