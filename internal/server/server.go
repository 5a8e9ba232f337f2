package server

import (
	"fmt"
	"net/http"
	"time"

	"storefront/internal/config"
	"storefront/internal/metrics"
	custommiddleware "storefront/internal/middleware"
	"storefront/internal/pricing"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP server is built from
type Deps struct {
	Store repository.Store

	// Health reports backing store health; nil means the in-memory store
	Health func() map[string]string

	// Redis backs checkout rate limiting; nil disables it
	Redis *redis.Client

	Registry *prometheus.Registry

	// Now drives offer windows; defaults to time.Now
	Now func() time.Time
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      NewRouter(cfg, logger, deps),
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// NewRouter wires services, handlers and middleware into a chi router
func NewRouter(cfg *config.Config, logger *zap.Logger, deps Deps) http.Handler {
	serverMetrics := metrics.NewServerMetrics(deps.Registry)
	orderMetrics := metrics.NewOrderMetrics(deps.Registry)

	router := chi.NewRouter()
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.MetricsMiddleware(serverMetrics))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.IsDevelopment()))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	router.Get("/health", healthHandler(deps.Health))
	router.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))

	resolver := pricing.NewResolver(deps.Now)
	orderService := service.NewOrderService(deps.Store, resolver, orderMetrics, logger, cfg.Kafka.Topic)
	catalogService := service.NewCatalogService(deps.Store, resolver, logger)

	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)
	checkoutLimiter := func(next http.Handler) http.Handler { return next }
	if deps.Redis != nil && cfg.RateLimit.Enabled {
		checkoutLimiter = custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "ratelimit:checkout",
		}, logger)
	}

	transport.NewProductHandler(catalogService, logger).RegisterRoutes(router)
	transport.NewOrderHandler(orderService, logger).RegisterRoutes(router, authMiddleware, checkoutLimiter)
	transport.NewAdminHandler(catalogService, orderService, logger).RegisterRoutes(router, authMiddleware)

	return router
}

func healthHandler(health func() map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]string{"status": "up", "store": config.StoreDriverMemory}
		if health != nil {
			stats = health()
			stats["store"] = config.StoreDriverPostgres
		}

		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		custommiddleware.RespondWithJSON(w, status, stats)
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")
	// stdout sync errors are expected on some platforms
	_ = s.logger.Sync()
	return nil
}
