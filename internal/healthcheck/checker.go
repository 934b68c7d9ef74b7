package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Probes upstream targets on a fixed interval and tracks which ones the
// proxy may send traffic to
type Checker struct {
	mu          sync.RWMutex
	targets     []string
	status      map[string]*Status
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

type Config struct {
	Targets     []string
	Endpoint    string        // Health check endpoint (default: "/health")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Request timeout (default: 5s)
	MaxFailures int           // Consecutive failures before marking unhealthy (default: 3)
}

func NewChecker(cfg *Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	c := &Checker{
		targets:     cfg.Targets,
		status:      make(map[string]*Status),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}

	// Assume healthy until proven otherwise
	for _, target := range cfg.Targets {
		c.status[target] = &Status{Target: target, IsHealthy: true, LastCheck: time.Now()}
	}

	return c
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(t)
		}(target)
	}

	wg.Wait()
}

func (c *Checker) checkTarget(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.record(target, false)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.record(target, false)
		return
	}
	defer resp.Body.Close()

	c.record(target, resp.StatusCode >= 200 && resp.StatusCode < 400)
}

func (c *Checker) record(target string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[target]
	status.LastCheck = time.Now()

	if ok {
		status.LastSuccess = status.LastCheck
		status.FailureCount = 0
		if !status.IsHealthy {
			log.Printf("Upstream %s is healthy again", target)
			status.IsHealthy = true
		}
		return
	}

	status.LastFailure = status.LastCheck
	status.FailureCount++
	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		log.Printf("Upstream %s marked unhealthy after %d failures", target, status.FailureCount)
		status.IsHealthy = false
	}
}

// Returns only healthy targets
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.status[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}

	return healthy
}

// Returns health status of all targets
func (c *Checker) AllStatus() map[string]*Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]*Status, len(c.status))
	for target, status := range c.status {
		statusCopy := *status
		statusMap[target] = &statusCopy
	}

	return statusMap
}

// Returns the overall health across targets
func (c *Checker) OverallHealth() HealthStatus {
	healthy := len(c.HealthyTargets())

	c.mu.RLock()
	total := len(c.targets)
	c.mu.RUnlock()

	switch {
	case total == 0 || healthy == total:
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
