package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-flow-queue/internal/api/dto"
	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/queue"
)

// GetCounts handles GET /api/v1/queues/:queue/counts?states=waiting,active
func (h *JobHandler) GetCounts(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	var states []core.JobState
	if raw := c.Query("states"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			states = append(states, core.JobState(strings.TrimSpace(s)))
		}
	}
	counts, err := q.GetJobCounts(c.Request.Context(), states...)
	if err != nil {
		h.respondError(c, err)
		return
	}
	paused, err := q.IsPaused(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queue":  q.Name(),
		"paused": paused,
		"counts": counts,
	})
}

// CreateJob handles POST /api/v1/queues/:queue/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	job, err := q.Add(c.Request.Context(), req.Name, req.Payload(), queue.JobOptions(req.Opts.ToCore()))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Debug("job created via api", "queue", q.Name(), "job_id", job.ID)
	c.JSON(http.StatusCreated, dto.NewJobResponse(job))
}

// CreateJobs handles POST /api/v1/queues/:queue/jobs/bulk
func (h *JobHandler) CreateJobs(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	var req dto.BulkJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	entries := make([]queue.BulkJob, len(req.Jobs))
	for i, j := range req.Jobs {
		entries[i] = queue.BulkJob{Name: j.Name, Data: j.Payload(), Opts: j.Opts.ToCore()}
	}
	jobs, err := q.AddBulk(c.Request.Context(), entries)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]dto.JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = dto.NewJobResponse(j)
	}
	c.JSON(http.StatusCreated, gin.H{"jobs": out})
}

// GetJob handles GET /api/v1/queues/:queue/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	job, err := q.GetJob(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if job == nil {
		state, err := q.GetJobState(c.Request.Context(), id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error": core.ErrJobNotFound.Error(),
			"state": state,
		})
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// RemoveJob handles DELETE /api/v1/queues/:queue/jobs/:id
func (h *JobHandler) RemoveJob(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	if err := q.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetFlow handles GET /api/v1/queues/:queue/jobs/:id/flow?depth=N
func (h *JobHandler) GetFlow(c *gin.Context) {
	depth := 0
	if raw := c.Query("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
			return
		}
		depth = n
	}
	node, err := h.flows.GetFlow(c.Request.Context(), c.Param("queue"), c.Param("id"), depth)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if node == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrJobNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewFlowResponse(node))
}

// Pause handles POST /api/v1/queues/:queue/pause
func (h *JobHandler) Pause(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	if err := q.Pause(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "paused": true})
}

// Resume handles POST /api/v1/queues/:queue/resume
func (h *JobHandler) Resume(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	if err := q.Resume(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "paused": false})
}

// Drain handles POST /api/v1/queues/:queue/drain?delayed=true
func (h *JobHandler) Drain(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	delayed := false
	if raw := c.Query("delayed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "delayed must be a boolean"})
			return
		}
		delayed = b
	}
	if err := q.Drain(c.Request.Context(), delayed); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "drained": true, "delayed": delayed})
}

// Clean handles POST /api/v1/queues/:queue/clean
func (h *JobHandler) Clean(c *gin.Context) {
	q, ok := h.queueFor(c)
	if !ok {
		return
	}
	var req dto.CleanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	grace := time.Duration(req.GraceMs) * time.Millisecond
	ids, err := q.Clean(c.Request.Context(), grace, req.Limit, core.JobState(req.State))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "removed": ids})
}

// GetStats handles GET /api/v1/queues/:queue/stats?since=RFC3339&until=RFC3339
func (h *JobHandler) GetStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "stats history is not enabled"})
		return
	}
	until := time.Now()
	since := until.Add(-time.Hour)
	var err error
	if raw := c.Query("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
	}
	if raw := c.Query("until"); raw != "" {
		if until, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
	}
	rows, err := h.stats.GetStatsHistory(c.Request.Context(), c.Param("queue"), since, until)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": c.Param("queue"), "stats": rows})
}
