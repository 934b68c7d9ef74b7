package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/litlabs/quota-gateway/internal/circuitbreaker"
	"github.com/litlabs/quota-gateway/internal/storage"
)

type Config struct {
	Limit           int           // Requests per window
	Window          time.Duration // Window length
	CleanupInterval time.Duration // How often expired local entries are swept (default: 5 minutes)
}

// Limiter is the fixed-window rate limiter the middleware talks to. When a
// Redis client is supplied it consumes from the shared Redis window and falls
// back to the per-instance local window if Redis is unreachable (the limiter
// guards against abuse, not billing, so it fails open to the weaker backend
// rather than rejecting traffic). Without Redis it is local-only.
type Limiter struct {
	local   *LocalBackend
	remote  Backend
	breaker *circuitbreaker.CircuitBreaker
	limit   int
	window  time.Duration
	cleanup time.Duration
	stop    chan struct{}
}

func New(cfg Config, redis *storage.RedisClient) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	l := &Limiter{
		local:   NewLocalBackend(cfg.Limit, cfg.Window),
		limit:   cfg.Limit,
		window:  cfg.Window,
		cleanup: cfg.CleanupInterval,
		stop:    make(chan struct{}),
	}

	if redis != nil {
		l.remote = NewRedisBackend(redis, cfg.Limit, cfg.Window)
		l.breaker = circuitbreaker.New(circuitbreaker.Config{
			MaxFailures:     3,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
		})
	}

	return l
}

// Checks whether key may perform one more request in the current window.
// Never returns an error: a misconfigured limit or window denies everything,
// and remote store trouble falls back to the local counter.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	if l.limit <= 0 || l.window <= 0 {
		return Decision{Allowed: false}
	}

	if l.remote != nil {
		var decision Decision
		err := l.breaker.Call(func() error {
			var consumeErr error
			decision, consumeErr = l.remote.Consume(ctx, key)
			return consumeErr
		})

		if err == nil {
			return decision
		}

		if err == circuitbreaker.ErrCircuitOpen {
			// Already degraded, don't spam the log on every request
		} else {
			log.Printf("Rate limit store unavailable, using local fallback: %v", err)
		}
	}

	decision, _ := l.local.Consume(ctx, key)
	return decision
}

// Read-only variant of Check
func (l *Limiter) Remaining(ctx context.Context, key string) int {
	if l.limit <= 0 || l.window <= 0 {
		return 0
	}

	if l.remote != nil && l.breaker.State() == circuitbreaker.StateClosed {
		if remaining, err := l.remote.Remaining(ctx, key); err == nil {
			return remaining
		}
	}

	remaining, _ := l.local.Remaining(ctx, key)
	return remaining
}

// Returns when the current window for key resets, or the zero time if no
// entry exists
func (l *Limiter) ResetTime(ctx context.Context, key string) time.Time {
	if l.remote != nil && l.breaker.State() == circuitbreaker.StateClosed {
		if resetAt, err := l.remote.ResetTime(ctx, key); err == nil && !resetAt.IsZero() {
			return resetAt
		}
	}

	resetAt, _ := l.local.ResetTime(ctx, key)
	return resetAt
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// Reports whether the shared Redis path is configured and currently healthy
func (l *Limiter) RemoteHealthy() bool {
	return l.remote != nil && l.breaker.State() == circuitbreaker.StateClosed
}

// Sweeps expired local entries on a fixed interval until Stop is called
func (l *Limiter) StartSweeper() {
	go func() {
		ticker := time.NewTicker(l.cleanup)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.local.Cleanup()
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *Limiter) Stop() {
	close(l.stop)
}
