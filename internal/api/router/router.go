package router

import (
	"net/http"

	"github.com/cuongbtq/fivetran-sync/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "fivetran-sync-api",
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "fivetran-sync-api",
			"rabbitmq": deps.RabbitClient.IsConnected(),
		})
	})

	// Initialize sync handler
	syncHandler := handler.NewSyncHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		syncs := v1.Group("/syncs")
		{
			// POST /api/v1/syncs - Trigger a connector sync run
			syncs.POST("", syncHandler.CreateSync)

			// GET /api/v1/syncs - List sync runs with filtering and pagination
			syncs.GET("", syncHandler.ListSyncs)

			// GET /api/v1/syncs/:run_id - Get sync run details
			syncs.GET("/:run_id", syncHandler.GetSync)

			// POST /api/v1/syncs/:run_id/cancel - Cancel a sync run
			syncs.POST("/:run_id/cancel", syncHandler.CancelSync)
		}
	}

	return r
}
