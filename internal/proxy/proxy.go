package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/litlabs/quota-gateway/internal/circuitbreaker"
	"github.com/litlabs/quota-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

// Proxy forwards gated requests to an upstream LitLabs service, rotating
// round-robin over healthy targets with a circuit breaker in front.
type Proxy struct {
	mu       sync.Mutex
	next     int
	targets  []string
	proxies  map[string]*httputil.ReverseProxy
	breaker  *circuitbreaker.CircuitBreaker
	health   *healthcheck.Checker
}

type Config struct {
	Targets        []string
	CircuitBreaker circuitbreaker.Config
	HealthCheck    healthcheck.Config
}

func New(cfg Config) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, err
		}

		proxies[targetURL] = httputil.NewSingleHostReverseProxy(target)
	}

	if cfg.HealthCheck.Targets == nil {
		cfg.HealthCheck.Targets = cfg.Targets
	}

	hc := healthcheck.NewChecker(&cfg.HealthCheck)
	hc.Start()

	return &Proxy{
		targets: cfg.Targets,
		proxies: proxies,
		breaker: circuitbreaker.New(cfg.CircuitBreaker),
		health:  hc,
	}, nil
}

// Picks the next healthy target round-robin
func (p *Proxy) nextTarget(healthy []string) string {
	if len(healthy) == 0 {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	target := healthy[p.next%len(healthy)]
	p.next++

	return target
}

// Forwards the request to an upstream target
func (p *Proxy) Handle(c *gin.Context) {
	selected := p.nextTarget(p.health.HealthyTargets())
	if selected == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy upstream available",
		})
		return
	}

	targetProxy := p.proxies[selected]
	target, _ := url.Parse(selected)

	err := p.breaker.Call(func() error {
		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}

		req := c.Request
		req.URL.Host = target.Host
		req.URL.Scheme = target.Scheme
		req.Header.Set("X-Forwarded-Host", req.Header.Get("Host"))
		req.Host = target.Host

		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}

		// Quota middleware reads this for the request log
		c.Set("upstream_target", selected)

		c.Writer = recorder
		targetProxy.ServeHTTP(c.Writer, req)

		if recorder.statusCode >= 500 {
			return errors.New("upstream error")
		}

		return nil
	})

	if err == circuitbreaker.ErrCircuitOpen {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

// Returns circuit breaker metrics
func (p *Proxy) CircuitBreakerMetrics() circuitbreaker.Metrics {
	return p.breaker.Metrics()
}

// Manually resets the circuit breaker
func (p *Proxy) ResetCircuitBreaker() {
	p.breaker.Reset()
}

// Returns health status of all targets
func (p *Proxy) HealthStatus() map[string]*healthcheck.Status {
	return p.health.AllStatus()
}

// Returns the overall upstream health
func (p *Proxy) OverallHealth() healthcheck.HealthStatus {
	return p.health.OverallHealth()
}

// Stops the health checker
func (p *Proxy) Stop() {
	p.health.Stop()
}

// DefaultConfig is the breaker/health tuning used when a service entry does
// not override it
func DefaultConfig(targets []string) Config {
	return Config{
		Targets: targets,
		CircuitBreaker: circuitbreaker.Config{
			MaxFailures:     5,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
		},
	}
}

// Captures the response status code
type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	return r.ResponseWriter.Write(data)
}
