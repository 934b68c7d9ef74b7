package handler

import (
	"net/http"

	"github.com/litlabs/quota-gateway/internal/service"
	"github.com/litlabs/quota-gateway/internal/usage"
	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	meter     *usage.Meter
	analytics *service.AnalyticsService
}

func NewUsageHandler(meter *usage.Meter, analytics *service.AnalyticsService) *UsageHandler {
	return &UsageHandler{
		meter:     meter,
		analytics: analytics,
	}
}

// Handles GET /v1/usage - today's usage vs tier limits for the caller
func (h *UsageHandler) GetMyUsage(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	ctx := c.Request.Context()
	summary, err := h.meter.Summary(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tier":   h.meter.UserTier(ctx, userID),
		"period": h.meter.PeriodKey(),
		"usage":  summary,
	})
}

// Handles GET /admin/usage/:user - per-user usage view for admins
func (h *UsageHandler) GetUserUsage(c *gin.Context) {
	userID := c.Param("user")

	ctx := c.Request.Context()
	summary, err := h.meter.Summary(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}

	totals, err := h.analytics.GetUserTotals(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage totals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"tier":    h.meter.UserTier(ctx, userID),
		"period":  h.meter.PeriodKey(),
		"usage":   summary,
		"totals":  totals,
	})
}
