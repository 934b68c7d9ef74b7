package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/litlabs/quota-gateway/internal/config"
	"github.com/litlabs/quota-gateway/internal/handler"
	"github.com/litlabs/quota-gateway/internal/middleware"
	"github.com/litlabs/quota-gateway/internal/proxy"
	"github.com/litlabs/quota-gateway/internal/ratelimit"
	"github.com/litlabs/quota-gateway/internal/repository"
	"github.com/litlabs/quota-gateway/internal/service"
	"github.com/litlabs/quota-gateway/internal/storage"
	"github.com/litlabs/quota-gateway/internal/usage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router        *gin.Engine
	config        *config.Config
	redis         *storage.RedisClient
	postgres      *storage.Postgres
	limiter       *ratelimit.Limiter
	authLimiter   *ratelimit.Limiter
	meter         *usage.Meter
	proxies       map[string]*proxy.Proxy
	apiKeyService *service.APIKeyService
	authService   *service.AuthService
	httpServer    *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Repositories
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	usageRepo := repository.NewUsageRepository(postgres)
	logRepo := repository.NewRequestLogRepository(postgres)

	// Services
	apiKeyService := service.NewAPIKeyService(postgres, apiKeyRepo, redis)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)
	analyticsService := service.NewAnalyticsService(logRepo, usageRepo)

	// The two gates: request-rate limiter and tiered usage meter
	limiter := ratelimit.New(ratelimit.Config{
		Limit:           cfg.RateLimit.Limit,
		Window:          cfg.RateLimitWindow(),
		CleanupInterval: cfg.CleanupInterval(),
	}, redis)
	limiter.StartSweeper()

	// Tight limit on credential endpoints to slow stuffing attacks
	authLimiter := ratelimit.New(ratelimit.Config{
		Limit:           5,
		Window:          15 * time.Minute,
		CleanupInterval: cfg.CleanupInterval(),
	}, redis)
	authLimiter.StartSweeper()

	tierLimits := usage.MergeOverrides(usage.DefaultTierLimits(), cfg.TierLimits)
	meter := usage.NewMeter(usageRepo, userRepo, tierLimits)

	middleware.InitRequestLogger(logRepo, 1000)

	s := &Server{
		router:        router,
		config:        cfg,
		redis:         redis,
		postgres:      postgres,
		limiter:       limiter,
		authLimiter:   authLimiter,
		meter:         meter,
		proxies:       make(map[string]*proxy.Proxy),
		apiKeyService: apiKeyService,
		authService:   authService,
	}

	s.initializeProxies()
	s.setupMiddleware()
	s.setupRoutes(analyticsService)

	return s
}

func (s *Server) initializeProxies() {
	for _, svc := range s.config.Services {
		if len(svc.Targets) == 0 {
			log.Printf("Warning: Service %s has no targets configured", svc.Path)
			continue
		}

		p, err := proxy.New(proxy.DefaultConfig(svc.Targets))
		if err != nil {
			log.Printf("Failed to create proxy for %s: %v", svc.Path, err)
			continue
		}

		s.proxies[svc.Path] = p
		log.Printf("Initialized proxy for %s -> %d targets (%s)", svc.Path, len(svc.Targets), svc.Operation)
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestLogger())
}

func (s *Server) setupRoutes(analytics *service.AnalyticsService) {
	authHandler := handler.NewAuthHandler(s.authService)
	apiKeyHandler := handler.NewAPIKeyHandler(*s.apiKeyService)
	usageHandler := handler.NewUsageHandler(s.meter, analytics)
	analyticsHandler := handler.NewAnalyticsHandler(analytics)
	systemHandler := handler.NewSystemHandler(s.proxies, s.limiter)

	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	auth.Use(middleware.RateLimit(s.authLimiter))
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	v1 := s.router.Group("/v1")
	v1.Use(middleware.APIKeyValidator(s.apiKeyService))
	v1.Use(middleware.RateLimit(s.limiter))
	v1.Use(middleware.RequireAuth(s.authService))
	{
		v1.GET("/usage", usageHandler.GetMyUsage)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RateLimit(s.limiter))
	admin.Use(middleware.RequireAuth(s.authService))
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/keys", apiKeyHandler.Create)
		admin.GET("/keys", apiKeyHandler.List)
		admin.GET("/keys/:id", apiKeyHandler.Get)
		admin.PATCH("/keys/:id", apiKeyHandler.Update)
		admin.DELETE("/keys/:id", apiKeyHandler.Delete)
		admin.GET("/usage/:user", usageHandler.GetUserUsage)
		admin.GET("/analytics", analyticsHandler.GetSummary)
		admin.GET("/analytics/keys/:id", analyticsHandler.GetAPIKeyStats)
		admin.GET("/system/breakers", systemHandler.CircuitBreakerStatus)
		admin.POST("/system/breakers/*service", systemHandler.ResetCircuitBreaker)
		admin.GET("/system/upstreams", systemHandler.UpstreamHealth)
	}

	s.setupGatedRoutes()
}

// Wires one gated route group per configured upstream service. The order is
// the contract: rate limit by caller, authenticate, check the tier quota,
// forward upstream, then count the operation only if the upstream succeeded.
func (s *Server) setupGatedRoutes() {
	for _, svc := range s.config.Services {
		p, exists := s.proxies[svc.Path]
		if !exists {
			continue
		}

		limiter := s.limiter
		if svc.RateLimit > 0 {
			limiter = ratelimit.New(ratelimit.Config{
				Limit:           svc.RateLimit,
				Window:          s.config.RateLimitWindow(),
				CleanupInterval: s.config.CleanupInterval(),
			}, s.redis)
			limiter.StartSweeper()
		}

		group := s.router.Group(svc.Path)
		group.Use(middleware.APIKeyValidator(s.apiKeyService))
		group.Use(middleware.RateLimit(limiter))
		group.Use(middleware.RequireAuth(s.authService))
		group.Use(middleware.Quota(s.meter, usage.OperationKind(svc.Operation)))

		proxyInstance := p
		group.Any("/*proxyPath", func(c *gin.Context) {
			proxyInstance.Handle(c)
		})

		log.Printf("Registered gated route: %s (%s)", svc.Path, svc.Operation)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	// Redis being down only degrades rate limiting; the database going away
	// takes the quota gates with it
	if !dbHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if !redisHealthy {
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "quota-gateway",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting quota gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	s.authLimiter.Stop()

	for _, p := range s.proxies {
		p.Stop()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
