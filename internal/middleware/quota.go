package middleware

import (
	"log"
	"net/http"

	"github.com/litlabs/quota-gateway/internal/usage"
	"github.com/gin-gonic/gin"
)

// Quota is the second gate: it enforces the account's daily tier quota for
// one operation kind. Must run after RequireAuth so user_id is in context.
// The counter is only incremented after the downstream handler succeeds, so
// a failed upstream call never burns quota.
func Quota(meter *usage.Meter, kind usage.OperationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		result := meter.CanPerformAction(ctx, userID, kind)
		if !result.Allowed {
			c.Set("quota_denied", true)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Quota exceeded",
				"reason":  result.Reason,
				"kind":    kind,
				"limit":   result.Limit,
				"current": result.Current,
			})
			c.Abort()
			return
		}

		c.Next()

		// Only completed operations count against the quota
		if c.Writer.Status() < http.StatusBadRequest {
			if err := meter.IncrementUsage(ctx, userID, kind); err != nil {
				requestID := c.GetString("request_id")
				log.Printf("[%s] %v", requestID, err)
			}
		}
	}
}
