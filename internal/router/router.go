// Package router registers the HTTP routes of the lifecycle service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/config"
	"github.com/iliyamo/contract-lifecycle/internal/handler"
	"github.com/iliyamo/contract-lifecycle/internal/middleware"
)

// RegisterRoutes registers the unauthenticated probes and the metrics
// endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Functions bundles what the /functions/v1 group needs.
type Functions struct {
	Config    config.Config
	Redis     *redis.Client
	Log       zerolog.Logger
	Lifecycle *handler.LifecycleHandler
	Renewals  *handler.RenewalHandler
}

// RegisterFunctions registers the lifecycle and renewal endpoints behind
// bearer auth, the known-role check and the rate limiter.  Only
// get_expiring responses are cached.
func RegisterFunctions(e *echo.Echo, f Functions) {
	g := e.Group("/functions/v1",
		middleware.JWTAuth(f.Config.JWTSecret),
		middleware.RequireKnownRole(),
		middleware.NewTokenBucket(f.Config.RateLimit, f.Redis, f.Log),
	)

	cache := middleware.NewRedisCache(f.Config.Cache, f.Redis, handler.IsCacheable)
	g.GET("/contract-lifecycle", f.Lifecycle.Handle, cache)
	g.POST("/contract-lifecycle", f.Lifecycle.Handle)

	g.GET("/renewal-manager", f.Renewals.Handle)
	g.POST("/renewal-manager", f.Renewals.Handle)
}
