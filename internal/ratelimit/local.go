package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

// LocalBackend keeps fixed-window counters in process memory. Counters for
// different gateway instances are independent, so the effective limit is
// multiplied by the instance count; the Redis backend is the remedy.
type LocalBackend struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewLocalBackend(limit int, window time.Duration) *LocalBackend {
	return &LocalBackend{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (b *LocalBackend) Consume(ctx context.Context, key string) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	entry, exists := b.entries[key]
	if !exists || !now.Before(entry.resetAt) {
		// First request for this key, or the previous window expired
		entry = &windowEntry{count: 1, resetAt: now.Add(b.window)}
		b.entries[key] = entry

		return Decision{
			Allowed:   true,
			Remaining: b.limit - 1,
			ResetAt:   entry.resetAt,
		}, nil
	}

	if entry.count >= b.limit {
		retryAfter := entry.resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}

		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    entry.resetAt,
		}, nil
	}

	entry.count++

	remaining := b.limit - entry.count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   entry.resetAt,
	}, nil
}

func (b *LocalBackend) Remaining(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, exists := b.entries[key]
	if !exists || !b.now().Before(entry.resetAt) {
		return b.limit, nil
	}

	remaining := b.limit - entry.count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (b *LocalBackend) ResetTime(ctx context.Context, key string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, exists := b.entries[key]
	if !exists {
		return time.Time{}, nil
	}

	return entry.resetAt, nil
}

// Deletes all entries whose window has expired. Runs on the sweeper tick;
// the table never shrinks otherwise.
func (b *LocalBackend) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for key, entry := range b.entries {
		if entry.resetAt.Before(now) {
			delete(b.entries, key)
		}
	}
}

// Returns the number of tracked keys, expired or not
func (b *LocalBackend) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
