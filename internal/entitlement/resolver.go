// Package entitlement answers what a user's subscription tier lets them do:
// how many projects they may own, how many they own now, and whether preview
// generation is unlocked.
package entitlement

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/metrics"
	"homeproject-backend/internal/models"
)

// profileTimeout bounds the shared profile lookup, which runs detached from
// any single caller's context.
const profileTimeout = 10 * time.Second

var quotas = map[models.Tier]int{
	models.TierFree:   2,
	models.TierCasual: 5,
	models.TierPro:    25,
}

// QuotaFor returns the project ceiling of tier without overrides.
func QuotaFor(tier models.Tier) int {
	if q, ok := quotas[tier]; ok {
		return q
	}
	return quotas[models.TierFree]
}

type Entitlement struct {
	Tier           models.Tier
	Quota          int
	Used           int
	Remaining      int
	PreviewAllowed bool
	// Degraded marks the conservative fallback returned when storage
	// failed in degraded mode. It allows no new projects.
	Degraded bool
}

// Store is the slice of persistence the resolver reads.
type Store interface {
	EnsureProfile(ctx context.Context, userID string, tier models.Tier) (*models.Profile, error)
	CountProjects(ctx context.Context, userID string) (int, error)
}

type Options struct {
	// FreeQuotaOverride raises the free quota when larger than the default.
	FreeQuotaOverride int
	// DegradedMode answers storage failures with a free-tier default
	// instead of an error.
	DegradedMode bool
}

type Resolver struct {
	store  Store
	opts   Options
	group  singleflight.Group
	logger zerolog.Logger
}

func NewResolver(st Store, opts Options, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  st,
		opts:   opts,
		logger: logger.With().Str("component", "entitlement").Logger(),
	}
}

func (r *Resolver) quota(tier models.Tier) int {
	q := QuotaFor(tier)
	if tier == models.TierFree && r.opts.FreeQuotaOverride > q {
		return r.opts.FreeQuotaOverride
	}
	return q
}

// Resolve looks up (creating if needed) the user's profile and counts their
// projects. The only side effect is lazy creation of a free profile.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Entitlement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Validation("user id is required")
	}

	ch := r.group.DoChan(userID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileTimeout)
		defer cancel()
		return r.store.EnsureProfile(shared, userID, models.TierFree)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return r.fail(userID, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return r.fail(userID, res.Err)
	}
	profile := res.Val.(*models.Profile)

	tier, ok := models.ParseTier(profile.PlanTier)
	if !ok {
		r.logger.Warn().
			Str("user_id", userID).
			Str("plan_tier", profile.PlanTier).
			Msg("unknown plan tier, treating as free")
	}

	used, err := r.store.CountProjects(ctx, userID)
	if err != nil {
		return r.fail(userID, err)
	}

	quota := r.quota(tier)
	return &Entitlement{
		Tier:           tier,
		Quota:          quota,
		Used:           used,
		Remaining:      max(0, quota-used),
		PreviewAllowed: tier != models.TierFree,
	}, nil
}

func (r *Resolver) fail(userID string, err error) (*Entitlement, error) {
	if !r.opts.DegradedMode {
		return nil, errs.Storage(err, "failed to resolve entitlement")
	}

	metrics.EntitlementDegradedTotal.Inc()
	r.logger.Warn().
		Err(err).
		Str("user_id", userID).
		Str("event", "degraded").
		Msg("entitlement lookup failed, using degraded default")

	// Usage is unknown, so the default grants no new projects.
	quota := QuotaFor(models.TierFree)
	return &Entitlement{
		Tier:      models.TierFree,
		Quota:     quota,
		Used:      quota,
		Remaining: 0,
		Degraded:  true,
	}, nil
}
