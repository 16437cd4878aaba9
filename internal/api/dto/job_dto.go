// Package dto holds the JSON shapes of the admin API.
package dto

import (
	"encoding/json"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/flow"
)

// BackoffRequest is the retry backoff of a job request.
type BackoffRequest struct {
	Type    string `json:"type" binding:"omitempty,oneof=fixed exponential"`
	DelayMs int64  `json:"delay_ms" binding:"gte=0"`
}

// JobOptionsRequest mirrors core.JobOptions with millisecond durations.
type JobOptionsRequest struct {
	JobID            string          `json:"job_id"`
	DelayMs          int64           `json:"delay_ms" binding:"gte=0"`
	Priority         int             `json:"priority" binding:"gte=0"`
	Attempts         int             `json:"attempts" binding:"gte=0"`
	Backoff          *BackoffRequest `json:"backoff"`
	RemoveOnComplete *bool           `json:"remove_on_complete"`
	RemoveOnFail     *bool           `json:"remove_on_fail"`
}

// ToCore converts the request options. Remove flags present in the body
// override queue defaults even when false.
func (o JobOptionsRequest) ToCore() core.JobOptions {
	opts := core.JobOptions{
		JobID:    o.JobID,
		Delay:    time.Duration(o.DelayMs) * time.Millisecond,
		Priority: o.Priority,
		Attempts: o.Attempts,
	}
	if o.RemoveOnComplete != nil {
		opts.RemoveOnComplete = *o.RemoveOnComplete
		opts.Mark(core.FieldRemoveOnComplete)
	}
	if o.RemoveOnFail != nil {
		opts.RemoveOnFail = *o.RemoveOnFail
		opts.Mark(core.FieldRemoveOnFail)
	}
	if o.Backoff != nil {
		typ := core.BackoffType(o.Backoff.Type)
		if typ == "" {
			typ = core.BackoffFixed
		}
		opts.Backoff = &core.Backoff{Type: typ, Delay: time.Duration(o.Backoff.DelayMs) * time.Millisecond}
	}
	return opts
}

// CreateJobRequest is the body of POST /queues/:queue/jobs.
type CreateJobRequest struct {
	Name string            `json:"name"`
	Data json.RawMessage   `json:"data"`
	Opts JobOptionsRequest `json:"opts"`
}

// BulkJobsRequest is the body of POST /queues/:queue/jobs/bulk.
type BulkJobsRequest struct {
	Jobs []CreateJobRequest `json:"jobs" binding:"required,min=1,dive"`
}

// FlowRequest is one node of POST /flows.
type FlowRequest struct {
	Name     string            `json:"name"`
	Queue    string            `json:"queue"`
	Data     json.RawMessage   `json:"data"`
	Opts     JobOptionsRequest `json:"opts"`
	Children []FlowRequest     `json:"children"`
}

// ToFlowJob converts the request tree.
func (f FlowRequest) ToFlowJob() flow.FlowJob {
	job := flow.FlowJob{
		Name:  f.Name,
		Queue: f.Queue,
		Data:  rawOrNull(f.Data),
		Opts:  f.Opts.ToCore(),
	}
	for _, c := range f.Children {
		job.Children = append(job.Children, c.ToFlowJob())
	}
	return job
}

// CleanRequest is the body of POST /queues/:queue/clean.
type CleanRequest struct {
	State   string `json:"state" binding:"required"`
	GraceMs int64  `json:"grace_ms" binding:"gte=0"`
	Limit   int    `json:"limit" binding:"gte=0"`
}

// JobResponse is the API view of a job record.
type JobResponse struct {
	ID              string          `json:"id"`
	Queue           string          `json:"queue"`
	Name            string          `json:"name"`
	State           string          `json:"state"`
	Data            json.RawMessage `json:"data,omitempty"`
	Priority        int             `json:"priority,omitempty"`
	Progress        json.RawMessage `json:"progress,omitempty"`
	ReturnValue     json.RawMessage `json:"return_value,omitempty"`
	FailedReason    string          `json:"failed_reason,omitempty"`
	AttemptsMade    int             `json:"attempts_made"`
	StalledCount    int             `json:"stalled_count,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	ProcessedOn     *time.Time      `json:"processed_on,omitempty"`
	FinishedOn      *time.Time      `json:"finished_on,omitempty"`
	ParentQueue     string          `json:"parent_queue,omitempty"`
	ParentID        string          `json:"parent_id,omitempty"`
	DependencyCount int             `json:"dependency_count,omitempty"`
	ChildCount      int             `json:"child_count,omitempty"`
}

// NewJobResponse converts a job record. Payloads that are not JSON are
// returned as JSON strings.
func NewJobResponse(j *core.Job) JobResponse {
	return JobResponse{
		ID:              j.ID,
		Queue:           j.Queue,
		Name:            j.Name,
		State:           string(j.State),
		Data:            asJSON(j.Data),
		Priority:        j.Priority,
		Progress:        asJSON(j.Progress),
		ReturnValue:     asJSON(j.ReturnValue),
		FailedReason:    j.FailedReason,
		AttemptsMade:    j.AttemptsMade,
		StalledCount:    j.StalledCount,
		Timestamp:       j.Timestamp,
		ProcessedOn:     j.ProcessedOn,
		FinishedOn:      j.FinishedOn,
		ParentQueue:     j.ParentQueue,
		ParentID:        j.ParentID,
		DependencyCount: j.DependencyCount,
		ChildCount:      j.ChildCount,
	}
}

// FlowResponse is a job with its children.
type FlowResponse struct {
	Job      JobResponse    `json:"job"`
	Children []FlowResponse `json:"children,omitempty"`
}

// NewFlowResponse converts a flow tree.
func NewFlowResponse(n *flow.Node) FlowResponse {
	out := FlowResponse{Job: NewJobResponse(n.Job)}
	for _, c := range n.Children {
		out.Children = append(out.Children, NewFlowResponse(c))
	}
	return out
}

// JobListResponse is a page of search results.
type JobListResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func asJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}

func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}

// Payload returns the job data to encode, JSON null when absent.
func (r CreateJobRequest) Payload() json.RawMessage {
	return rawOrNull(r.Data)
}
