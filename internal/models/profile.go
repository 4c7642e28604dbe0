package models

import (
	"database/sql"
	"time"
)

type Tier string

const (
	TierFree   Tier = "free"
	TierCasual Tier = "casual"
	TierPro    Tier = "pro"
)

// ParseTier returns the tier for s and whether s was a known tier.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierCasual, TierPro:
		return Tier(s), true
	}
	return TierFree, false
}

// Profile billing fields are written only by the payment webhook.
type Profile struct {
	UserID               string
	PlanTier             string
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	SubscriptionStatus   sql.NullString
	CurrentPeriodEnd     sql.NullTime
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
