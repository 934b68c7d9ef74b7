package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestBackend(limit int, window time.Duration) (*LocalBackend, *time.Time) {
	b := NewLocalBackend(limit, window)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestLocalBackend_LimitWithinWindow(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(5, time.Minute)

	for i := 0; i < 5; i++ {
		d, err := b.Consume(ctx, "ip:1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d was denied, want allowed", i+1)
		}
	}

	d, _ := b.Consume(ctx, "ip:1.2.3.4")
	if d.Allowed {
		t.Error("6th request in the window should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("denied decision should carry a retry hint, got %v", d.RetryAfter)
	}

	remaining, _ := b.Remaining(ctx, "ip:1.2.3.4")
	if remaining != 0 {
		t.Errorf("remaining after exhaustion = %d, want 0", remaining)
	}
}

func TestLocalBackend_WindowRollover(t *testing.T) {
	ctx := context.Background()
	b, now := newTestBackend(2, time.Minute)

	b.Consume(ctx, "ip:1.2.3.4")
	b.Consume(ctx, "ip:1.2.3.4")

	if d, _ := b.Consume(ctx, "ip:1.2.3.4"); d.Allowed {
		t.Fatal("3rd request should be denied before rollover")
	}

	// Advance past the window boundary
	*now = now.Add(61 * time.Second)

	d, _ := b.Consume(ctx, "ip:1.2.3.4")
	if !d.Allowed {
		t.Fatal("first request after rollover should be allowed")
	}

	remaining, _ := b.Remaining(ctx, "ip:1.2.3.4")
	if remaining != 1 {
		t.Errorf("count should restart at 1 after rollover, remaining = %d, want 1", remaining)
	}
}

func TestLocalBackend_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(1, time.Minute)

	if d, _ := b.Consume(ctx, "ip:1.2.3.4"); !d.Allowed {
		t.Fatal("first key should be allowed")
	}
	if d, _ := b.Consume(ctx, "ip:5.6.7.8"); !d.Allowed {
		t.Fatal("second key should not be affected by the first")
	}
	if d, _ := b.Consume(ctx, "ip:1.2.3.4"); d.Allowed {
		t.Fatal("first key should now be exhausted")
	}
	if remaining, _ := b.Remaining(ctx, "ip:9.9.9.9"); remaining != 1 {
		t.Errorf("untouched key remaining = %d, want full limit", remaining)
	}
}

func TestLocalBackend_RemainingDecreases(t *testing.T) {
	ctx := context.Background()
	b, now := newTestBackend(4, time.Minute)

	for want := 3; want >= 0; want-- {
		b.Consume(ctx, "api:k1")
		remaining, _ := b.Remaining(ctx, "api:k1")
		if remaining != want {
			t.Fatalf("remaining = %d, want %d", remaining, want)
		}
	}

	*now = now.Add(2 * time.Minute)

	remaining, _ := b.Remaining(ctx, "api:k1")
	if remaining != 4 {
		t.Errorf("remaining after rollover = %d, want full limit", remaining)
	}
}

func TestLocalBackend_ResetTime(t *testing.T) {
	ctx := context.Background()
	b, now := newTestBackend(5, time.Minute)

	if resetAt, _ := b.ResetTime(ctx, "ip:1.2.3.4"); !resetAt.IsZero() {
		t.Errorf("reset time for unknown key = %v, want zero", resetAt)
	}

	b.Consume(ctx, "ip:1.2.3.4")

	resetAt, _ := b.ResetTime(ctx, "ip:1.2.3.4")
	if want := now.Add(time.Minute); !resetAt.Equal(want) {
		t.Errorf("reset time = %v, want %v", resetAt, want)
	}
}

func TestLocalBackend_Cleanup(t *testing.T) {
	ctx := context.Background()
	b, now := newTestBackend(5, time.Minute)

	b.Consume(ctx, "ip:old")

	*now = now.Add(30 * time.Second)
	b.Consume(ctx, "ip:fresh")

	// Expire the first entry but not the second
	*now = now.Add(45 * time.Second)
	b.Cleanup()

	if b.Size() != 1 {
		t.Fatalf("tracked keys after cleanup = %d, want 1", b.Size())
	}

	if resetAt, _ := b.ResetTime(ctx, "ip:old"); !resetAt.IsZero() {
		t.Error("expired entry should have been swept")
	}
	if resetAt, _ := b.ResetTime(ctx, "ip:fresh"); resetAt.IsZero() {
		t.Error("live entry should survive cleanup")
	}
}

func TestLocalBackend_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(50, time.Minute)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := b.Consume(ctx, "ip:1.2.3.4")
			allowed <- d.Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}

	if count != 50 {
		t.Errorf("allowed %d concurrent requests, want exactly the limit of 50", count)
	}
}
