// Package handler implements the admin API endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/flow"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
	"github.com/jdziat/simple-flow-queue/pkg/stats"
)

// Pinger is implemented by stores that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Storage core.Storage
	// Stats is optional; the stats endpoint answers 501 without it.
	Stats       stats.Storage
	QueueConfig []queue.ConfigOption
}

// JobHandler serves queue, job and flow endpoints.
type JobHandler struct {
	logger   *slog.Logger
	storage  core.Storage
	stats    stats.Storage
	flows    *flow.Producer
	queueCfg []queue.ConfigOption

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		logger:   logger,
		storage:  deps.Storage,
		stats:    deps.Stats,
		flows:    flow.NewProducer(deps.Storage, flow.WithLogger(logger)),
		queueCfg: append([]queue.ConfigOption{queue.WithLogger(logger)}, deps.QueueConfig...),
		queues:   make(map[string]*queue.Queue),
	}
}

// queueFor returns the producer of the queue named in the path.
func (h *JobHandler) queueFor(c *gin.Context) (*queue.Queue, bool) {
	name := c.Param("queue")
	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.queues[name]; ok {
		return q, true
	}
	q, err := queue.New(h.storage, name, h.queueCfg...)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	h.queues[name] = q
	return q, true
}

// statusFor maps queue errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrJobActive), errors.Is(err, core.ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *JobHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	if p, ok := h.storage.(Pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "flowq",
	})
}
