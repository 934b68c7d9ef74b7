package usage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Store is the persistence collaborator for usage counters. Exactly one
// counter exists per (user, kind, period key); counts never decrease.
type Store interface {
	Count(ctx context.Context, userID string, kind OperationKind, periodKey string) (int, error)
	Increment(ctx context.Context, userID string, kind OperationKind, periodKey string) error
}

// TierSource resolves the effective subscription tier for a user
type TierSource interface {
	TierFor(ctx context.Context, userID string) (Tier, error)
}

// CheckResult is the outcome of a quota check. Limit is -1 when the tier has
// no cap on the operation kind.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   int    `json:"limit"`
	Current int    `json:"current"`
}

// Meter enforces per-user daily quotas by subscription tier. It gates
// business value, not request rate; the rate limiter handles floods. Callers
// must check before running the operation and increment only after it
// succeeds, so a failed upstream call never burns quota.
type Meter struct {
	store  Store
	tiers  TierSource
	limits TierLimits
	now    func() time.Time
}

func NewMeter(store Store, tiers TierSource, limits TierLimits) *Meter {
	if limits == nil {
		limits = DefaultTierLimits()
	}

	return &Meter{
		store:  store,
		tiers:  tiers,
		limits: limits,
		now:    time.Now,
	}
}

// PeriodKey returns the UTC calendar day the meter is counting against
func (m *Meter) PeriodKey() string {
	return m.now().UTC().Format("2006-01-02")
}

// CanPerformAction reports whether userID may perform one more operation of
// the given kind today. Pure check, no mutation. Denies when the store is
// unreachable: these operations cost money upstream, so unlimited usage
// during an outage is the worse failure.
func (m *Meter) CanPerformAction(ctx context.Context, userID string, kind OperationKind) CheckResult {
	tier := m.UserTier(ctx, userID)
	limit := m.limits.LimitFor(tier, kind)

	if limit == Unlimited {
		return CheckResult{Allowed: true, Limit: Unlimited}
	}

	if limit == 0 {
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("Your %s plan does not include %s. Upgrade to unlock it.", tier, kind),
			Limit:   0,
		}
	}

	current, err := m.store.Count(ctx, userID, kind, m.PeriodKey())
	if err != nil {
		log.Printf("Usage store unavailable, denying %s for user %s: %v", kind, userID, err)
		return CheckResult{
			Allowed: false,
			Reason:  "Usage tracking is temporarily unavailable. Please try again in a moment.",
			Limit:   limit,
		}
	}

	if current >= limit {
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("Daily limit reached. You've used %d/%d %s today. Upgrade to Pro for unlimited access.", current, limit, kind),
			Limit:   limit,
			Current: current,
		}
	}

	return CheckResult{Allowed: true, Limit: limit, Current: current}
}

// IncrementUsage records one completed operation. Call it exactly once, and
// only after the gated operation succeeded.
func (m *Meter) IncrementUsage(ctx context.Context, userID string, kind OperationKind) error {
	if err := m.store.Increment(ctx, userID, kind, m.PeriodKey()); err != nil {
		return fmt.Errorf("failed to increment %s usage for user %s: %w", kind, userID, err)
	}

	return nil
}

// UserTier resolves the user's tier, defaulting to free when no subscription
// record exists or the source errors
func (m *Meter) UserTier(ctx context.Context, userID string) Tier {
	tier, err := m.tiers.TierFor(ctx, userID)
	if err != nil || tier == "" {
		return TierFree
	}

	return tier
}

// Summary reports today's usage against the tier limits for every kind
func (m *Meter) Summary(ctx context.Context, userID string) (map[OperationKind]CheckResult, error) {
	tier := m.UserTier(ctx, userID)
	periodKey := m.PeriodKey()

	summary := make(map[OperationKind]CheckResult, len(KnownKinds()))
	for _, kind := range KnownKinds() {
		limit := m.limits.LimitFor(tier, kind)

		current, err := m.store.Count(ctx, userID, kind, periodKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s usage: %w", kind, err)
		}

		summary[kind] = CheckResult{
			Allowed: limit == Unlimited || current < limit,
			Limit:   limit,
			Current: current,
		}
	}

	return summary, nil
}
