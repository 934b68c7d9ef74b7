package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/litlabs/quota-gateway/internal/ratelimit"
	"github.com/litlabs/quota-gateway/internal/usage"
	"github.com/gin-gonic/gin"
)

type memStore struct {
	counts map[string]int
}

func newMemStore() *memStore {
	return &memStore{counts: make(map[string]int)}
}

func (s *memStore) Count(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) (int, error) {
	return s.counts[userID+"/"+string(kind)+"/"+periodKey], nil
}

func (s *memStore) Increment(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) error {
	s.counts[userID+"/"+string(kind)+"/"+periodKey]++
	return nil
}

type staticTiers struct{ tier usage.Tier }

func (s staticTiers) TierFor(ctx context.Context, userID string) (usage.Tier, error) {
	return s.tier, nil
}

// Stands in for RequireAuth in tests
func fakeAuth(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func doRequest(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestQuota_IncrementsOnlyOnSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	meter := usage.NewMeter(store, staticTiers{usage.TierFree}, nil)

	upstreamStatus := http.StatusOK

	router := gin.New()
	router.POST("/generate",
		fakeAuth("u1"),
		Quota(meter, usage.OpAIGeneration),
		func(c *gin.Context) { c.Status(upstreamStatus) },
	)

	doRequest(router)
	if res := meter.CanPerformAction(context.Background(), "u1", usage.OpAIGeneration); res.Current != 1 {
		t.Fatalf("usage after success = %d, want 1", res.Current)
	}

	// A failed upstream call must not burn quota
	upstreamStatus = http.StatusBadGateway
	doRequest(router)
	if res := meter.CanPerformAction(context.Background(), "u1", usage.OpAIGeneration); res.Current != 1 {
		t.Fatalf("usage after upstream failure = %d, want still 1", res.Current)
	}
}

func TestQuota_DeniesAtLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	meter := usage.NewMeter(store, staticTiers{usage.TierFree}, nil)

	router := gin.New()
	router.POST("/generate",
		fakeAuth("u1"),
		Quota(meter, usage.OpAIGeneration),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	// Free tier allows 5 AI generations
	for i := 0; i < 5; i++ {
		if w := doRequest(router); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := doRequest(router)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status over quota = %d, want 429", w.Code)
	}

	// Denied requests must not increment either
	if res := meter.CanPerformAction(context.Background(), "u1", usage.OpAIGeneration); res.Current != 5 {
		t.Errorf("usage after denial = %d, want 5", res.Current)
	}
}

func TestQuota_RequiresAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)

	meter := usage.NewMeter(newMemStore(), staticTiers{usage.TierPro}, nil)

	router := gin.New()
	router.POST("/generate",
		fakeAuth(""),
		Quota(meter, usage.OpAIGeneration),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	if w := doRequest(router); w.Code != http.StatusUnauthorized {
		t.Errorf("status without user = %d, want 401", w.Code)
	}
}

func TestRateLimitRunsBeforeQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	meter := usage.NewMeter(store, staticTiers{usage.TierPro}, nil)
	limiter := ratelimit.New(ratelimit.Config{Limit: 2, Window: time.Minute}, nil)

	router := gin.New()
	router.POST("/generate",
		RateLimit(limiter),
		fakeAuth("u1"),
		Quota(meter, usage.OpAIGeneration),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	doRequest(router)
	doRequest(router)

	w := doRequest(router)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status over rate limit = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("rate limited response should carry Retry-After")
	}

	// The quota gate never saw the rejected request
	if res := meter.CanPerformAction(context.Background(), "u1", usage.OpAIGeneration); res.Current != 2 {
		t.Errorf("usage = %d, want 2 (rate-limited request must not reach the meter)", res.Current)
	}
}
