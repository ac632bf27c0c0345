// Package http wires the gin engine for the relay's inbound surface.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/finrelay/finrelay/internal/interfaces/http/handlers"
	"github.com/finrelay/finrelay/internal/interfaces/http/middleware"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

// Router represents the HTTP router configuration
type Router struct {
	engine         *gin.Engine
	webhookHandler *handlers.WebhookHandler
	healthHandler  *handlers.HealthHandler
	jobsHandler    *handlers.JobsHandler
	logger         logger.Interface
}

// NewRouter creates a new HTTP router with all dependencies
func NewRouter(webhook *handlers.WebhookHandler, health *handlers.HealthHandler, jobs *handlers.JobsHandler, log logger.Interface) *Router {
	return &Router{
		engine:         gin.New(),
		webhookHandler: webhook,
		healthHandler:  health,
		jobsHandler:    jobs,
		logger:         log,
	}
}

// SetupRoutes configures all HTTP routes
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger(r.logger))
	r.engine.Use(middleware.Recovery(r.logger))

	r.engine.GET("/health", r.healthHandler.HealthCheck)
	r.engine.GET("/health/live", r.healthHandler.Liveness)
	r.engine.GET("/health/batches", r.healthHandler.BatchStats)

	webhooks := r.engine.Group("/webhooks")
	{
		webhooks.POST("/stripe", r.webhookHandler.HandleStripeEvent)
	}

	r.engine.GET("/jobs", r.jobsHandler.ListJobs)
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
