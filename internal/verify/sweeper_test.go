package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/store"
)

type recordingNotifier struct {
	mu      sync.Mutex
	banned  []string
	reauths []string
}

func (n *recordingNotifier) AccountBanned(acc *models.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.banned = append(n.banned, acc.ID)
}

func (n *recordingNotifier) AccountNeedsReauth(acc *models.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reauths = append(n.reauths, acc.ID)
}

func seedAccount(t *testing.T, st store.Store, id, token string) {
	t.Helper()
	bundle := *oidcBundle()
	bundle.AccessToken = token
	st.SetAccount(&models.Account{ID: id, Label: id, Credentials: bundle})
}

func TestSweepOnceUpdatesAccounts(t *testing.T) {
	st := store.NewMemoryStore()
	seedAccount(t, st, "healthy", "at-ok")
	seedAccount(t, st, "suspended", "at-banned")
	seedAccount(t, st, "dead-token", "at-dead")

	verifier := &scriptedVerifier{byToken: map[string]error{
		"at-banned": &kiroerrors.ErrBanned{HTTPStatus: 423},
		"at-dead":   &kiroerrors.ErrAuthorizationExpired{Message: "expired"},
	}}
	refresher := &scriptedRefresher{err: &kiroerrors.ErrRefresh{Method: string(models.AuthOIDC), Err: errors.New("invalid_grant")}}
	notifier := &recordingNotifier{}
	checker := NewStatusChecker(verifier, refresher, nil)
	sweeper := NewSweeper(st, checker, notifier, nil, nil, time.Hour)

	sweeper.SweepOnce(context.Background())

	healthy, ok := st.GetAccount("healthy")
	require.True(t, ok)
	require.NotNil(t, healthy.Snapshot)
	require.False(t, healthy.NeedsReauth)

	suspended, _ := st.GetAccount("suspended")
	require.True(t, suspended.Banned)
	require.Equal(t, []string{"suspended"}, notifier.banned)

	dead, _ := st.GetAccount("dead-token")
	require.True(t, dead.NeedsReauth)
	require.Equal(t, []string{"dead-token"}, notifier.reauths)
}

func TestSweepSkipsBannedAccounts(t *testing.T) {
	st := store.NewMemoryStore()
	bundle := *oidcBundle()
	st.SetAccount(&models.Account{ID: "gone", Credentials: bundle, Banned: true})

	verifier := &scriptedVerifier{byToken: map[string]error{}}
	checker := NewStatusChecker(verifier, &scriptedRefresher{}, nil)
	sweeper := NewSweeper(st, checker, nil, nil, nil, time.Hour)

	sweeper.SweepOnce(context.Background())
	require.EqualValues(t, 0, verifier.calls.Load(), "banned accounts are never re-verified")
}

func TestSweepNotifiesReauthOnlyOnce(t *testing.T) {
	st := store.NewMemoryStore()
	seedAccount(t, st, "dead-token", "at-dead")

	verifier := &scriptedVerifier{byToken: map[string]error{
		"at-dead": &kiroerrors.ErrAuthorizationExpired{Message: "expired"},
	}}
	refresher := &scriptedRefresher{err: &kiroerrors.ErrRefresh{Method: string(models.AuthOIDC), Err: errors.New("invalid_grant")}}
	notifier := &recordingNotifier{}
	checker := NewStatusChecker(verifier, refresher, nil)
	sweeper := NewSweeper(st, checker, notifier, nil, nil, time.Hour)

	sweeper.SweepOnce(context.Background())
	sweeper.SweepOnce(context.Background())
	require.Len(t, notifier.reauths, 1)
}

func TestSweepTagsChecksWithCorrelationIDs(t *testing.T) {
	st := store.NewMemoryStore()
	seedAccount(t, st, "a", "at-1")
	seedAccount(t, st, "b", "at-2")

	verifier := &scriptedVerifier{byToken: map[string]error{}}
	checker := NewStatusChecker(verifier, &scriptedRefresher{}, nil)
	sweeper := NewSweeper(st, checker, nil, nil, nil, time.Hour)

	sweeper.SweepOnce(context.Background())

	verifier.mu.Lock()
	cids := append([]string(nil), verifier.cids...)
	verifier.mu.Unlock()
	require.Len(t, cids, 2)
	require.NotEmpty(t, cids[0])
	require.NotEmpty(t, cids[1])
	require.NotEqual(t, cids[0], cids[1], "each account check gets its own correlation id")
}
