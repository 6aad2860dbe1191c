// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"conseq/internal/domain/sequence"
	"conseq/internal/infrastructure/http/v1/handlers"
	"conseq/internal/infrastructure/http/v1/middleware"
	"conseq/internal/infrastructure/storage/postgres"
	"conseq/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks)
	Pool *postgres.Pool

	// Logger for request logging
	Logger *logger.Logger

	// Validator for bearer token validation; nil disables token auth
	Validator middleware.ActorValidator

	// Service is the sequence domain service
	Service *sequence.Service
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no identity required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1. Identity is resolved but not required: per-sequence
	// assignments decide what an anonymous caller may do.
	api := router.Group("/api/v1")
	api.Use(middleware.Actor(cfg.Validator))
	{
		baseHandler := handlers.NewBaseHandler()

		sequences := api.Group("/sequences")
		blocks := api.Group("/blocks")

		handlers.NewSequenceHandler(baseHandler, cfg.Service).RegisterRoutes(sequences)
		handlers.NewBlockHandler(baseHandler, cfg.Service).RegisterRoutes(sequences, blocks)
		handlers.NewAdminHandler(baseHandler, cfg.Service).RegisterRoutes(api.Group("/admin"))
	}

	return router
}
