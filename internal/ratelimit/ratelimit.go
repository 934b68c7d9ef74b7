package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetAt    time.Time     `json:"reset_at"`
}

// Backend counts requests per key in fixed windows. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Consumes one request for key. The count for a key only grows until its
	// window expires; an expired window starts over at 1.
	Consume(ctx context.Context, key string) (Decision, error)

	// Returns how many requests key has left in its current window without
	// consuming anything.
	Remaining(ctx context.Context, key string) (int, error)

	// Returns when the current window for key resets. Zero time means no
	// entry exists for key.
	ResetTime(ctx context.Context, key string) (time.Time, error)
}

// ClientKey picks the identity to rate limit on. An API key wins over a
// bearer token, a bearer token over the network address, so stripping
// credentials only ever demotes a caller to the shared IP bucket.
func ClientKey(apiKeyID, bearerToken, ip string) string {
	if apiKeyID != "" {
		return "api:" + apiKeyID
	}
	if bearerToken != "" {
		// Never use the raw secret as a key
		sum := sha256.Sum256([]byte(bearerToken))
		return "user:" + hex.EncodeToString(sum[:])[:12]
	}
	return "ip:" + ip
}
