package handler

import (
	"net/http"

	"github.com/litlabs/quota-gateway/internal/proxy"
	"github.com/litlabs/quota-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Handles admin endpoints for gateway internals
type SystemHandler struct {
	proxies map[string]*proxy.Proxy
	limiter *ratelimit.Limiter
}

func NewSystemHandler(proxies map[string]*proxy.Proxy, limiter *ratelimit.Limiter) *SystemHandler {
	return &SystemHandler{
		proxies: proxies,
		limiter: limiter,
	}
}

// Returns the status of all upstream circuit breakers plus the rate limit
// store path
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]interface{})

	for path, proxyInstance := range h.proxies {
		metrics := proxyInstance.CircuitBreakerMetrics()

		statuses[path] = gin.H{
			"state":             metrics.State.String(),
			"failure_count":     metrics.FailureCount,
			"success_count":     metrics.SuccessCount,
			"last_failure_time": metrics.LastFailureTime,
			"last_state_change": metrics.LastStateChange,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"upstreams":           statuses,
		"rate_limit_remote":   h.limiter.RemoteHealthy(),
		"rate_limit_requests": h.limiter.Limit(),
		"rate_limit_window":   h.limiter.Window().String(),
	})
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	// Wildcard param already includes leading slash (e.g., "/ai")
	service := c.Param("service")

	proxyInstance, exists := h.proxies[service]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Service not found",
		})
		return
	}

	proxyInstance.ResetCircuitBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"service": service,
	})
}

// Returns the health of all upstream targets
func (h *SystemHandler) UpstreamHealth(c *gin.Context) {
	health := make(map[string]interface{})

	for path, proxyInstance := range h.proxies {
		health[path] = gin.H{
			"overall": proxyInstance.OverallHealth().String(),
			"targets": proxyInstance.HealthStatus(),
		}
	}

	c.JSON(http.StatusOK, health)
}
