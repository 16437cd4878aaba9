package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-flow-queue/internal/api/dto"
	"github.com/jdziat/simple-flow-queue/pkg/core"
)

const defaultPageSize = 50

func (h *JobHandler) inspector(c *gin.Context) (core.Inspector, bool) {
	in, ok := h.storage.(core.Inspector)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "store does not support inspection"})
	}
	return in, ok
}

// ListQueues handles GET /api/v1/queues
func (h *JobHandler) ListQueues(c *gin.Context) {
	in, ok := h.inspector(c)
	if !ok {
		return
	}
	queues, err := in.ListQueues(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if queues == nil {
		queues = []core.QueueStats{}
	}
	c.JSON(http.StatusOK, gin.H{"queues": queues})
}

// SearchJobs handles GET /api/v1/jobs
// Filters: queue, state, name, since, until (RFC3339), limit, offset.
func (h *JobHandler) SearchJobs(c *gin.Context) {
	in, ok := h.inspector(c)
	if !ok {
		return
	}
	filter := core.JobFilter{
		Queue: c.Query("queue"),
		State: core.JobState(c.Query("state")),
		Name:  c.Query("name"),
	}
	if filter.State != "" && !filter.State.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + string(filter.State)})
		return
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := c.Query(key); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
				return
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := c.Query(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
				return
			}
			*dst = t
		}
	}

	if filter.Limit == 0 {
		filter.Limit = defaultPageSize
	}
	jobs, total, err := in.SearchJobs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := dto.JobListResponse{
		Jobs:   make([]dto.JobResponse, len(jobs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for i, j := range jobs {
		out.Jobs[i] = dto.NewJobResponse(j)
	}
	c.JSON(http.StatusOK, out)
}
