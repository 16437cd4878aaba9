package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-flow-queue/internal/api/dto"
)

// CreateFlow handles POST /api/v1/flows
// The whole tree is created in one atomic store operation.
func (h *JobHandler) CreateFlow(c *gin.Context) {
	var req dto.FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Queue == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "root queue is required"})
		return
	}
	node, err := h.flows.Add(c.Request.Context(), req.ToFlowJob())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Debug("flow created via api", "queue", node.Job.Queue, "job_id", node.Job.ID, "size", node.Size())
	c.JSON(http.StatusCreated, dto.NewFlowResponse(node))
}
