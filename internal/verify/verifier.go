// Package verify turns an access token into a canonical account snapshot
// and keeps stored accounts current. The verifier issues the identity and
// usage lookups concurrently; identity failures degrade the snapshot,
// usage failures abort it. The status checker layers a bounded
// refresh-and-retry on top for expired tokens.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/logging"
	"github.com/leonaii/kirocloud/internal/metrics"
	"github.com/leonaii/kirocloud/internal/models"
	"github.com/leonaii/kirocloud/internal/rpc"
)

const creditResource = "CREDIT"

// RPCCaller is the slice of the RPC client the verifier needs.
type RPCCaller interface {
	Call(ctx context.Context, operation string, body map[string]interface{}, accessToken, idp string) (map[string]interface{}, error)
}

// Verifier produces account snapshots from access tokens.
type Verifier struct {
	rpc     RPCCaller
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewVerifier creates a verifier over the given RPC transport.
func NewVerifier(rpc RPCCaller, logger *logging.Logger, m *metrics.Metrics) *Verifier {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Verifier{rpc: rpc, log: logger.Component("verify"), metrics: m}
}

// Verify issues the identity and usage lookups concurrently and builds a
// fresh snapshot. A failed identity lookup leaves the identity fields
// empty; a failed usage lookup fails the whole verification.
func (v *Verifier) Verify(ctx context.Context, accessToken, idp string) (*models.AccountSnapshot, error) {
	var (
		wg          sync.WaitGroup
		identity    map[string]interface{}
		identityErr error
		usage       map[string]interface{}
		usageErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		identity, identityErr = v.rpc.Call(ctx, "GetUserInfo", nil, accessToken, idp)
	}()
	go func() {
		defer wg.Done()
		usage, usageErr = v.rpc.Call(ctx, "GetUsageLimits", nil, accessToken, idp)
	}()
	wg.Wait()

	if usageErr != nil {
		v.count(usageErr)
		return nil, usageErr
	}
	if identityErr != nil {
		v.log.Warn("identity lookup failed, snapshot proceeds without identity fields",
			"error", identityErr.Error())
	}

	snapshot := &models.AccountSnapshot{
		IdP:           idp,
		HeaderVersion: models.HeaderVersionForIdP(idp),
		CollectedAt:   time.Now().UTC(),
	}
	if identityErr == nil {
		snapshot.Email = strField(identity, "email")
		snapshot.UserID = strField(identity, "userId")
	}

	title, breakdown, nextReset, days, err := parseUsage(usage)
	if err != nil {
		v.count(err)
		return nil, err
	}
	snapshot.SubscriptionTitle = title
	snapshot.SubscriptionType = models.SubscriptionFromTitle(title)
	snapshot.Usage = breakdown
	snapshot.NextResetDate = nextReset
	snapshot.DaysRemaining = days

	v.count(nil)
	return snapshot, nil
}

func (v *Verifier) count(err error) {
	if v.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case kiroerrors.IsBanned(err):
		outcome = "banned"
	case kiroerrors.IsAuthorizationExpired(err):
		outcome = "unauthorized"
	default:
		outcome = "error"
	}
	v.metrics.VerifyTotal.WithLabelValues(outcome).Inc()
}

// parseUsage normalizes the usage response: it locates the CREDIT line in
// the breakdown list and splits it into base, free-trial, and bonus
// components. Trial and bonus slices count toward the totals only while
// their reported status is ACTIVE.
func parseUsage(body map[string]interface{}) (title string, breakdown models.UsageBreakdown, nextReset *time.Time, days int, err error) {
	title = strField(body, "subscriptionTitle")
	days = rpc.IntField(body, "daysRemaining")
	nextReset = millisField(body, "nextResetDate")

	credit := findCreditLine(listField(body, "breakdownList"))
	if credit == nil {
		err = fmt.Errorf("usage response has no %s breakdown line", creditResource)
		return
	}

	breakdown.Base = models.QuotaComponent{
		Limit:   rpc.IntField(credit, "usageLimit"),
		Current: rpc.IntField(credit, "currentUsage"),
	}
	breakdown.TotalLimit = breakdown.Base.Limit
	breakdown.TotalCurrent = breakdown.Base.Current

	if trial := mapField(credit, "freeTrial"); trial != nil {
		t := &models.TrialComponent{
			QuotaComponent: models.QuotaComponent{
				Limit:   rpc.IntField(trial, "usageLimit"),
				Current: rpc.IntField(trial, "currentUsage"),
			},
			ExpiresAt: millisField(trial, "expiresAt"),
		}
		breakdown.FreeTrial = t
		if isActive(trial) {
			breakdown.TotalLimit += t.Limit
			breakdown.TotalCurrent += t.Current
		}
	}

	for _, item := range listField(credit, "bonuses") {
		bonus, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		grant := models.BonusGrant{
			Name: strField(bonus, "name"),
			QuotaComponent: models.QuotaComponent{
				Limit:   rpc.IntField(bonus, "usageLimit"),
				Current: rpc.IntField(bonus, "currentUsage"),
			},
			ExpiresAt: millisField(bonus, "expiresAt"),
		}
		breakdown.Bonuses = append(breakdown.Bonuses, grant)
		if isActive(bonus) {
			breakdown.TotalLimit += grant.Limit
			breakdown.TotalCurrent += grant.Current
		}
	}
	return
}

func findCreditLine(items []interface{}) map[string]interface{} {
	for _, item := range items {
		line, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if strField(line, "resourceType") == creditResource {
			return line
		}
	}
	return nil
}

func isActive(m map[string]interface{}) bool {
	return strings.EqualFold(strField(m, "status"), "ACTIVE")
}

func strField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func int64Field(m map[string]interface{}, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// millisField reads an epoch-milliseconds timestamp.
func millisField(m map[string]interface{}, key string) *time.Time {
	ms := int64Field(m, key)
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func mapField(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func listField(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	list, _ := m[key].([]interface{})
	return list
}
