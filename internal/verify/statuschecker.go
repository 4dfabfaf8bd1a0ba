package verify

import (
	"context"
	"sync"
	"time"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/models"
)

// SnapshotVerifier is the verifier surface the status checker consumes.
type SnapshotVerifier interface {
	Verify(ctx context.Context, accessToken, idp string) (*models.AccountSnapshot, error)
}

// TokenRefresher renews a credential bundle's tokens.
type TokenRefresher interface {
	Refresh(ctx context.Context, bundle *models.CredentialBundle) (*models.RefreshedTokens, error)
}

// StatusChecker verifies a stored credential bundle, performing at most
// one refresh-and-retry when the access token has expired. Concurrent
// checks on the same account key are serialized so two callers cannot
// race a refresh on the same bundle.
type StatusChecker struct {
	verifier  SnapshotVerifier
	refresher TokenRefresher
	log       *logging.Logger
	locks     sync.Map // account key -> *sync.Mutex
}

// NewStatusChecker wires the verifier and refresher together.
func NewStatusChecker(verifier SnapshotVerifier, refresher TokenRefresher, logger *logging.Logger) *StatusChecker {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &StatusChecker{
		verifier:  verifier,
		refresher: refresher,
		log:       logger.Component("statuschecker"),
	}
}

// CheckStatus verifies the bundle and returns a fresh snapshot plus the
// possibly-updated bundle. Rules:
//   - a Banned error is terminal and never triggers a refresh;
//   - a 401 on a refreshable bundle gets exactly one refresh and one
//     retry; the retry's failure is surfaced as-is;
//   - a 401 on a non-refreshable bundle, or a failed refresh, surfaces a
//     re-authentication error wrapping the original 401;
//   - every other error is surfaced immediately.
func (c *StatusChecker) CheckStatus(ctx context.Context, key string, bundle *models.CredentialBundle) (*models.AccountSnapshot, *models.CredentialBundle, error) {
	if key != "" {
		mu := c.lockFor(key)
		mu.Lock()
		defer mu.Unlock()
	}

	snapshot, err := c.verifier.Verify(ctx, bundle.AccessToken, bundle.IdP())
	if err == nil {
		return snapshot, bundle, nil
	}
	if kiroerrors.IsBanned(err) {
		c.log.Warn("account suspended by backend", "account", key)
		return nil, bundle, err
	}
	if !kiroerrors.IsAuthorizationExpired(err) {
		return nil, bundle, err
	}

	if !bundle.CanRefresh() {
		c.log.Info("expired token cannot be refreshed", "account", key, "auth_method", string(bundle.AuthMethod))
		return nil, bundle, &kiroerrors.ErrReauthRequired{Cause: err}
	}

	tokens, refreshErr := c.refresher.Refresh(ctx, bundle)
	if refreshErr != nil {
		c.log.Warn("token refresh failed",
			"account", key,
			"auth_method", string(bundle.AuthMethod),
			"error", refreshErr.Error(),
		)
		return nil, bundle, &kiroerrors.ErrReauthRequired{Cause: err}
	}

	updated := *bundle
	updated.Apply(tokens, time.Now())

	// One retry with the new token; a second failure is surfaced, not
	// retried again.
	snapshot, retryErr := c.verifier.Verify(ctx, updated.AccessToken, updated.IdP())
	if retryErr != nil {
		return nil, &updated, retryErr
	}
	return snapshot, &updated, nil
}

func (c *StatusChecker) lockFor(key string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
