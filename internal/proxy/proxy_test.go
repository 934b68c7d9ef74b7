package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/litlabs/quota-gateway/internal/circuitbreaker"
	"github.com/litlabs/quota-gateway/internal/middleware"
	"github.com/litlabs/quota-gateway/internal/ratelimit"
	"github.com/litlabs/quota-gateway/internal/usage"
	"github.com/gin-gonic/gin"
)

func newUpstream(t *testing.T, name string, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.Header().Set("X-Upstream", name)
		w.WriteHeader(status)
	}))

	t.Cleanup(srv.Close)
	return srv
}

func newTestProxy(t *testing.T, cfg Config) *Proxy {
	t.Helper()

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create proxy: %v", err)
	}

	t.Cleanup(p.Stop)
	return p
}

func proxyRouter(p *Proxy, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handlers := append(extra, func(c *gin.Context) { p.Handle(c) })
	router.Any("/svc/*proxyPath", handlers...)

	return router
}

func TestProxy_ForwardsToUpstream(t *testing.T) {
	upstream := newUpstream(t, "alpha", http.StatusOK)
	p := newTestProxy(t, DefaultConfig([]string{upstream.URL}))
	router := proxyRouter(p)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/echo", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Upstream"); got != "alpha" {
		t.Errorf("request reached %q, want alpha", got)
	}
}

func TestProxy_RoundRobinAcrossTargets(t *testing.T) {
	a := newUpstream(t, "alpha", http.StatusOK)
	b := newUpstream(t, "beta", http.StatusOK)
	p := newTestProxy(t, DefaultConfig([]string{a.URL, b.URL}))
	router := proxyRouter(p)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/echo", nil))
		seen[w.Header().Get("X-Upstream")]++
	}

	if seen["alpha"] != 2 || seen["beta"] != 2 {
		t.Errorf("distribution = %v, want 2 requests per target", seen)
	}
}

func TestProxy_BreakerOpensOnUpstreamErrors(t *testing.T) {
	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}

		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p := newTestProxy(t, Config{
		Targets: []string{srv.URL},
		CircuitBreaker: circuitbreaker.Config{
			MaxFailures:     2,
			Timeout:         time.Minute,
			HalfOpenSuccess: 1,
		},
	})
	router := proxyRouter(p)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/echo", nil))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("request %d status = %d, want upstream 500", i+1, w.Code)
		}
	}

	if p.CircuitBreakerMetrics().State != circuitbreaker.StateOpen {
		t.Fatal("breaker should be open after repeated upstream failures")
	}

	before := hits.Load()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/echo", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status with open breaker = %d, want 503", w.Code)
	}
	if hits.Load() != before {
		t.Error("open breaker must not forward to the upstream")
	}
}

type chainStore struct {
	counts map[string]int
}

func (s *chainStore) Count(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) (int, error) {
	return s.counts[userID+"/"+string(kind)], nil
}

func (s *chainStore) Increment(ctx context.Context, userID string, kind usage.OperationKind, periodKey string) error {
	s.counts[userID+"/"+string(kind)]++
	return nil
}

type chainTiers struct{ tier usage.Tier }

func (c chainTiers) TierFor(ctx context.Context, userID string) (usage.Tier, error) {
	return c.tier, nil
}

// Full gate chain against a live upstream: rate limit, auth identity, quota
// check, forward, count on success.
func TestProxy_GatedChain(t *testing.T) {
	upstream := newUpstream(t, "alpha", http.StatusOK)
	p := newTestProxy(t, DefaultConfig([]string{upstream.URL}))

	store := &chainStore{counts: make(map[string]int)}
	meter := usage.NewMeter(store, chainTiers{usage.TierFree}, nil)
	limiter := ratelimit.New(ratelimit.Config{Limit: 3, Window: time.Minute}, nil)

	router := proxyRouter(p,
		middleware.RateLimit(limiter),
		func(c *gin.Context) { c.Set("user_id", "u1"); c.Next() },
		middleware.Quota(meter, usage.OpImageGeneration),
	)

	// Free tier allows 2 image generations; the rate limiter allows 3 requests
	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/svc/generate", nil))
		statuses = append(statuses, w.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i, status := range statuses {
		if status != want[i] {
			t.Errorf("request %d status = %d, want %d", i+1, status, want[i])
		}
	}

	if got := store.counts["u1/image_generation"]; got != 2 {
		t.Errorf("counted operations = %d, want 2 (denied requests must not count)", got)
	}
}
