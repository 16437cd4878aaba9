// Package router wires the admin API routes.
package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-flow-queue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	h := handler.NewJobHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/queues", h.ListQueues)
		v1.GET("/jobs", h.SearchJobs)
		v1.POST("/flows", h.CreateFlow)

		q := v1.Group("/queues/:queue")
		{
			q.GET("/counts", h.GetCounts)
			q.GET("/stats", h.GetStats)
			q.POST("/pause", h.Pause)
			q.POST("/resume", h.Resume)
			q.POST("/drain", h.Drain)
			q.POST("/clean", h.Clean)

			q.POST("/jobs", h.CreateJob)
			q.POST("/jobs/bulk", h.CreateJobs)
			q.GET("/jobs/:id", h.GetJob)
			q.DELETE("/jobs/:id", h.RemoveJob)
			q.GET("/jobs/:id/flow", h.GetFlow)
		}
	}

	return r
}
