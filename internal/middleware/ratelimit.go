package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/litlabs/quota-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RateLimit is the first gate: it blunts floods by caller identity before any
// business logic runs. Must be registered after APIKeyValidator so a
// validated key can claim its own bucket.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var apiKeyID string
		if v, exists := c.Get("api_key_id"); exists {
			if id, ok := v.(uuid.UUID); ok {
				apiKeyID = id.String()
			}
		}

		key := ratelimit.ClientKey(apiKeyID, bearerToken(c), c.ClientIP())

		ctx := c.Request.Context()
		decision := limiter.Check(ctx, key)

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		if !decision.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetAt.Unix()))
		}

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}

			c.Set("rate_limited", true)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Extracts the bearer token from the Authorization header, if any
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}
