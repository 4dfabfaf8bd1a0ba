package verify

import (
	"context"
	"sync"
	"time"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/store"
)

// Notifier receives terminal account-state transitions. Implementations
// must not block.
type Notifier interface {
	AccountBanned(acc *models.Account)
	AccountNeedsReauth(acc *models.Account)
}

// Sweeper periodically re-verifies every stored account. Each account is
// checked in its own goroutine; one account's failure never stalls the
// rest of the sweep.
type Sweeper struct {
	store    store.Store
	checker  *StatusChecker
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logging.Logger
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper; notifier and metrics may be nil.
func NewSweeper(st store.Store, checker *StatusChecker, notifier Notifier, m *metrics.Metrics, logger *logging.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Sweeper{
		store:    st,
		checker:  checker,
		notifier: notifier,
		metrics:  m,
		log:      logger.Component("sweeper"),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop terminates the loop. Idempotent.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// SweepOnce checks every stored account concurrently and updates the
// store and gauges.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	accounts := s.store.ListAccounts()
	s.log.Info("sweep started", "accounts", len(accounts))

	var wg sync.WaitGroup
	for _, acc := range accounts {
		if acc.Banned {
			continue
		}
		wg.Add(1)
		go func(acc *models.Account) {
			defer wg.Done()
			s.sweepAccount(ctx, acc)
		}(acc)
	}
	wg.Wait()

	s.updateGauges()
	s.log.Info("sweep finished", "accounts", len(accounts))
}

func (s *Sweeper) sweepAccount(ctx context.Context, acc *models.Account) {
	// One correlation id per account check joins the sweep's log lines
	// with the RPC calls made underneath it.
	cid := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, cid)

	snapshot, bundle, err := s.checker.CheckStatus(ctx, acc.ID, &acc.Credentials)
	switch {
	case err == nil:
		acc.Snapshot = snapshot
		acc.Credentials = *bundle
		acc.NeedsReauth = false
	case kiroerrors.IsBanned(err):
		acc.Banned = true
		s.log.Warn("account banned", "account", acc.ID, "correlation_id", cid)
		if s.notifier != nil {
			s.notifier.AccountBanned(acc)
		}
	case kiroerrors.IsReauthRequired(err):
		newly := !acc.NeedsReauth
		acc.NeedsReauth = true
		acc.Credentials = *bundle
		s.log.Warn("account needs re-authentication", "account", acc.ID, "correlation_id", cid)
		if newly && s.notifier != nil {
			s.notifier.AccountNeedsReauth(acc)
		}
	default:
		// Transient failure: keep the account as-is until the next sweep.
		s.log.Warn("account check failed", "account", acc.ID, "error", err.Error(), "correlation_id", cid)
		return
	}
	s.store.SetAccount(acc)
}

func (s *Sweeper) updateGauges() {
	if s.metrics == nil {
		return
	}
	var banned, reauth int
	for _, acc := range s.store.ListAccounts() {
		if acc.Banned {
			banned++
		}
		if acc.NeedsReauth {
			reauth++
		}
	}
	s.metrics.BannedAccounts.Set(float64(banned))
	s.metrics.ReauthRequired.Set(float64(reauth))
}
