package models

import (
	"strings"
	"time"
)

// SubscriptionType is the coarse plan tier inferred from the backend's
// subscription title. The backend only ships a display string, so the tier
// is a case-insensitive substring match with Free as the fallback.
type SubscriptionType string

const (
	SubscriptionFree       SubscriptionType = "free"
	SubscriptionPro        SubscriptionType = "pro"
	SubscriptionEnterprise SubscriptionType = "enterprise"
	SubscriptionTeams      SubscriptionType = "teams"
)

// SubscriptionFromTitle infers the plan tier from the subscription title.
func SubscriptionFromTitle(title string) SubscriptionType {
	upper := strings.ToUpper(title)
	switch {
	case strings.Contains(upper, "ENTERPRISE"):
		return SubscriptionEnterprise
	case strings.Contains(upper, "TEAMS"):
		return SubscriptionTeams
	case strings.Contains(upper, "PRO"):
		return SubscriptionPro
	default:
		return SubscriptionFree
	}
}

// HeaderVersionForIdP selects the backend API revision for an identity
// provider. BuilderId and Google accounts talk to the v2 endpoint family;
// everything else, including unknown providers, stays on v1.
func HeaderVersionForIdP(idp string) int {
	switch idp {
	case string(ProviderBuilderID), string(ProviderGoogle):
		return 2
	default:
		return 1
	}
}

// QuotaComponent is a single slice of the CREDIT quota line.
type QuotaComponent struct {
	Limit   int `json:"limit"`
	Current int `json:"current"`
}

// TrialComponent is the free-trial slice, counted only while ACTIVE.
type TrialComponent struct {
	QuotaComponent
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BonusGrant is a named promotional quota grant with its own expiry.
type BonusGrant struct {
	Name string `json:"name"`
	QuotaComponent
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UsageBreakdown is the normalized CREDIT quota split. TotalLimit and
// TotalCurrent sum base, active free trial, and active bonuses.
type UsageBreakdown struct {
	Base         QuotaComponent  `json:"base"`
	FreeTrial    *TrialComponent `json:"free_trial,omitempty"`
	Bonuses      []BonusGrant    `json:"bonuses,omitempty"`
	TotalLimit   int             `json:"total_limit"`
	TotalCurrent int             `json:"total_current"`
}

// AccountSnapshot is the canonical account record produced by a
// verification call. It is always rebuilt whole, never patched.
type AccountSnapshot struct {
	Email             string           `json:"email,omitempty"`
	UserID            string           `json:"user_id,omitempty"`
	IdP               string           `json:"idp"`
	SubscriptionType  SubscriptionType `json:"subscription_type"`
	SubscriptionTitle string           `json:"subscription_title,omitempty"`
	Usage             UsageBreakdown   `json:"usage"`
	NextResetDate     *time.Time       `json:"next_reset_date,omitempty"`
	DaysRemaining     int              `json:"days_remaining,omitempty"`
	HeaderVersion     int              `json:"header_version"`
	CollectedAt       time.Time        `json:"collected_at"`
}
