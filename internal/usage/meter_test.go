package usage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	counts map[string]int
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int)}
}

func (s *fakeStore) key(userID string, kind OperationKind, periodKey string) string {
	return userID + "/" + string(kind) + "/" + periodKey
}

func (s *fakeStore) Count(ctx context.Context, userID string, kind OperationKind, periodKey string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[s.key(userID, kind, periodKey)], nil
}

func (s *fakeStore) Increment(ctx context.Context, userID string, kind OperationKind, periodKey string) error {
	if s.err != nil {
		return s.err
	}
	s.counts[s.key(userID, kind, periodKey)]++
	return nil
}

type fakeTiers struct {
	tiers map[string]Tier
	err   error
}

func (f *fakeTiers) TierFor(ctx context.Context, userID string) (Tier, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.tiers[userID], nil
}

func newTestMeter(store Store, tiers map[string]Tier) *Meter {
	return NewMeter(store, &fakeTiers{tiers: tiers}, DefaultTierLimits())
}

func TestMeter_QuotaGating(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMeter(store, map[string]Tier{"u1": TierFree})

	// Free tier allows 5 AI generations per day
	for i := 0; i < 5; i++ {
		res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
		if !res.Allowed {
			t.Fatalf("generation %d denied: %s", i+1, res.Reason)
		}
		if res.Current != i {
			t.Fatalf("generation %d reported current = %d, want %d", i+1, res.Current, i)
		}
		if err := m.IncrementUsage(ctx, "u1", OpAIGeneration); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if res.Allowed {
		t.Fatal("6th generation should be denied on the free tier")
	}
	if res.Reason == "" {
		t.Error("denial must carry a user-presentable reason")
	}
	if res.Limit != 5 || res.Current != 5 {
		t.Errorf("denial reported %d/%d, want 5/5", res.Current, res.Limit)
	}
}

func TestMeter_StarterScenario(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	limits := DefaultTierLimits()
	limits[TierStarter][OpAIGeneration] = 20
	m := NewMeter(store, &fakeTiers{tiers: map[string]Tier{"u1": TierStarter}}, limits)

	first := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if !first.Allowed || first.Limit != 20 || first.Current != 0 {
		t.Fatalf("fresh check = %+v, want allowed with limit 20, current 0", first)
	}

	for i := 0; i < 20; i++ {
		m.IncrementUsage(ctx, "u1", OpAIGeneration)
	}

	res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if res.Allowed {
		t.Fatal("21st generation should be denied")
	}
	if res.Limit != 20 || res.Current != 20 {
		t.Errorf("denial reported %d/%d, want 20/20", res.Current, res.Limit)
	}
	if !strings.Contains(res.Reason, "20/20") {
		t.Errorf("reason should explain usage, got %q", res.Reason)
	}
}

func TestMeter_PeriodIsolation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMeter(store, map[string]Tier{"u1": TierFree})

	day := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }

	for i := 0; i < 5; i++ {
		m.IncrementUsage(ctx, "u1", OpAIGeneration)
	}
	if res := m.CanPerformAction(ctx, "u1", OpAIGeneration); res.Allowed {
		t.Fatal("quota should be exhausted on day one")
	}

	// Midnight passes
	day = day.Add(2 * time.Hour)

	res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if !res.Allowed {
		t.Fatal("new period should start with a fresh counter")
	}
	if res.Current != 0 {
		t.Errorf("current in new period = %d, want 0", res.Current)
	}
}

func TestMeter_FailsClosedOnStoreOutage(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.err = errors.New("connection refused")
	m := newTestMeter(store, map[string]Tier{"u1": TierFree})

	res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if res.Allowed {
		t.Fatal("store outage must deny chargeable operations")
	}
	if res.Reason == "" {
		t.Error("outage denial should still be explainable to the user")
	}
}

func TestMeter_UnlimitedTier(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMeter(store, map[string]Tier{"u1": TierPro})

	for i := 0; i < 1000; i++ {
		m.IncrementUsage(ctx, "u1", OpAIGeneration)
	}

	res := m.CanPerformAction(ctx, "u1", OpAIGeneration)
	if !res.Allowed {
		t.Fatal("pro tier should never hit an AI generation cap")
	}
	if res.Limit != Unlimited {
		t.Errorf("limit = %d, want unlimited sentinel", res.Limit)
	}
}

func TestMeter_UnknownUserDefaultsToFree(t *testing.T) {
	ctx := context.Background()
	m := newTestMeter(newFakeStore(), map[string]Tier{})

	if tier := m.UserTier(ctx, "nobody"); tier != TierFree {
		t.Errorf("unknown user tier = %q, want free", tier)
	}

	m2 := NewMeter(newFakeStore(), &fakeTiers{err: errors.New("db down")}, nil)
	if tier := m2.UserTier(ctx, "u1"); tier != TierFree {
		t.Errorf("tier on source error = %q, want free", tier)
	}
}

func TestMeter_UnknownKindDenied(t *testing.T) {
	ctx := context.Background()
	m := newTestMeter(newFakeStore(), map[string]Tier{"u1": TierAgency})

	res := m.CanPerformAction(ctx, "u1", OperationKind("time_travel"))
	if res.Allowed {
		t.Fatal("an operation kind missing from the limit table must be denied")
	}
	if res.Limit != 0 {
		t.Errorf("missing kind limit = %d, want 0", res.Limit)
	}
}

func TestMeter_Summary(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestMeter(store, map[string]Tier{"u1": TierFree})

	m.IncrementUsage(ctx, "u1", OpAIGeneration)
	m.IncrementUsage(ctx, "u1", OpAIGeneration)

	summary, err := m.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}

	if got := summary[OpAIGeneration]; got.Current != 2 || got.Limit != 5 {
		t.Errorf("ai_generation summary = %+v, want 2/5", got)
	}
	if got := summary[OpImageGeneration]; got.Current != 0 {
		t.Errorf("untouched kind should report 0, got %+v", got)
	}
}

func TestTierLimits_LimitFor(t *testing.T) {
	limits := DefaultTierLimits()

	if got := limits.LimitFor(Tier("vip"), OpAIGeneration); got != 5 {
		t.Errorf("unknown tier should fall back to free limits, got %d", got)
	}
	if got := limits.LimitFor(TierPro, OpAIGeneration); got != Unlimited {
		t.Errorf("pro ai_generation = %d, want unlimited", got)
	}
	if got := (TierLimits{}).LimitFor(TierFree, OpAIGeneration); got != 0 {
		t.Errorf("empty table should deny, got %d", got)
	}
}
