package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// wireNode is the per-job input of the addJobs script.
type wireNode struct {
	Queue        string `json:"queue"`
	Name         string `json:"name"`
	Opts         string `json:"opts"`
	JobID        string `json:"jobId,omitempty"`
	Priority     int    `json:"priority"`
	Delay        int64  `json:"delay"`
	Attempts     int    `json:"attempts"`
	BackoffType  string `json:"bt"`
	BackoffDelay int64  `json:"bd"`
	RemoveOnDone string `json:"roc"`
	RemoveOnFail string `json:"rof"`
	Parent       int    `json:"parent"`
	Children     int    `json:"children"`
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func toWireNode(job *core.Job, parent, children int) (wireNode, error) {
	if job.Name == "" {
		job.Name = core.DefaultJobName
	}
	job.Opts.Attempts = security.ClampAttempts(job.Opts.Attempts)
	if err := security.ValidateJob(job); err != nil {
		return wireNode{}, err
	}
	opts, err := json.Marshal(job.Opts)
	if err != nil {
		return wireNode{}, fmt.Errorf("jobs/redis: encode options: %w", err)
	}
	n := wireNode{
		Queue:        job.Queue,
		Name:         job.Name,
		Opts:         string(opts),
		JobID:        job.Opts.JobID,
		Priority:     job.Opts.Priority,
		Delay:        job.Opts.Delay.Milliseconds(),
		Attempts:     job.MaxAttempts(),
		RemoveOnDone: flag(job.Opts.RemoveOnComplete),
		RemoveOnFail: flag(job.Opts.RemoveOnFail),
		Parent:       parent,
		Children:     children,
	}
	if b := job.Opts.Backoff; b != nil {
		n.BackoffType = string(b.Type)
		n.BackoffDelay = b.Delay.Milliseconds()
	}
	return n, nil
}

// AddJobs inserts independent jobs in one script.
func (s *Store) AddJobs(ctx context.Context, jobs []*core.Job) error {
	nodes := make([]core.FlowNode, len(jobs))
	for i, j := range jobs {
		nodes[i] = core.FlowNode{Job: j, Parent: -1}
	}
	return s.addNodes(ctx, "jobs", nodes)
}

// AddFlow inserts a flow tree in one script.
func (s *Store) AddFlow(ctx context.Context, nodes []core.FlowNode) error {
	return s.addNodes(ctx, "flow", nodes)
}

func (s *Store) addNodes(ctx context.Context, mode string, nodes []core.FlowNode) error {
	if len(nodes) == 0 {
		return nil
	}
	wire := make([]wireNode, len(nodes))
	payloads := make([]any, len(nodes))
	for i, n := range nodes {
		if n.Parent >= i {
			return core.NewValidationError("flow", fmt.Errorf("node %d references parent %d out of order", i, n.Parent))
		}
		w, err := toWireNode(n.Job, n.Parent+1, n.Children)
		if err != nil {
			return err
		}
		wire[i] = w
		payloads[i] = n.Job.Data
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("jobs/redis: encode jobs: %w", err)
	}

	args := append([]any{mode, string(encoded)}, payloads...)
	res, err := s.run(ctx, addJobsScript, nodes[0].Job.Queue, args...)
	if err != nil {
		return wrapErr("add jobs", err)
	}
	if err := codeErr(res); err != nil {
		return err
	}
	pairs, ok := res.([]any)
	if !ok || len(pairs) != 2*len(nodes) {
		return fmt.Errorf("jobs/redis: add jobs: unexpected reply %v", res)
	}

	ts := time.UnixMilli(s.now().UnixMilli())
	for i, n := range nodes {
		n.Job.ID, _ = pairs[2*i].(string)
		state, _ := pairs[2*i+1].(string)
		n.Job.State = core.JobState(state)
		n.Job.Priority = n.Job.Opts.Priority
		if n.Job.Timestamp.IsZero() {
			n.Job.Timestamp = ts
		}
		if n.Parent >= 0 {
			parent := nodes[n.Parent].Job
			n.Job.ParentID = parent.ID
			n.Job.ParentQueue = parent.Queue
		}
		if n.Children > 0 {
			n.Job.ChildCount = n.Children
			n.Job.DependencyCount = n.Children
		}
	}
	return nil
}

// GetJob retrieves a job by id, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, queue, id string) (*core.Job, error) {
	pipe := s.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, s.jobKey(queue, id))
	lockCmd := pipe.Get(ctx, s.lockKey(queue, id))
	ttlCmd := pipe.PTTL(ctx, s.lockKey(queue, id))
	depsCmd := pipe.SCard(ctx, s.dependenciesKey(queue, id))
	dueCmd := pipe.ZScore(ctx, s.stateKey(queue, "delayed"), id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, wrapErr("get job", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}
	job, err := jobFromHash(queue, id, fields)
	if err != nil {
		return nil, err
	}
	if job.State == core.StateActive {
		job.LockToken = lockCmd.Val()
		if ttl := ttlCmd.Val(); ttl > 0 {
			exp := s.now().Add(ttl)
			job.LockExpiresAt = &exp
		}
	}
	if job.State == core.StateDelayed {
		if due, err := dueCmd.Result(); err == nil {
			runAt := time.UnixMilli(int64(due))
			job.RunAt = &runAt
		}
	}
	job.DependencyCount = int(depsCmd.Val())
	return job, nil
}

// GetJobState reports the state of a job, removed for tombstoned parents
// and unknown for missing jobs.
func (s *Store) GetJobState(ctx context.Context, queue, id string) (core.JobState, error) {
	state, err := s.client.HGet(ctx, s.jobKey(queue, id), "state").Result()
	if err == nil {
		return core.JobState(state), nil
	}
	if !errors.Is(err, goredis.Nil) {
		return core.StateUnknown, wrapErr("get job state", err)
	}
	n, err := s.client.Exists(ctx, s.tombstoneKey(queue, id)).Result()
	if err != nil {
		return core.StateUnknown, wrapErr("get job state", err)
	}
	if n > 0 {
		return core.StateRemoved, nil
	}
	return core.StateUnknown, nil
}

// GetDependencies lists the pending and processed children of a parent.
func (s *Store) GetDependencies(ctx context.Context, queue, id string) (*core.Dependencies, error) {
	pipe := s.client.Pipeline()
	pendingCmd := pipe.SMembers(ctx, s.dependenciesKey(queue, id))
	processedCmd := pipe.HGetAll(ctx, s.processedKey(queue, id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, wrapErr("get dependencies", err)
	}

	deps := &core.Dependencies{Processed: make(map[core.JobKey][]byte)}
	for _, key := range pendingCmd.Val() {
		if q, cid, ok := s.parseJobKey(key); ok {
			deps.Pending = append(deps.Pending, core.JobKey{Queue: q, ID: cid})
		}
	}
	for key, value := range processedCmd.Val() {
		if q, cid, ok := s.parseJobKey(key); ok {
			deps.Processed[core.JobKey{Queue: q, ID: cid}] = []byte(value)
		}
	}
	return deps, nil
}

// pairsToMap converts a flat HGETALL reply into a map.
func pairsToMap(flat []any) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return m
}

func msTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

func atoi(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func jobFromHash(queue, id string, h map[string]string) (*core.Job, error) {
	job := &core.Job{
		Queue:        queue,
		ID:           id,
		Name:         h["name"],
		Data:         []byte(h["data"]),
		State:        core.JobState(h["state"]),
		Priority:     atoi(h["priority"]),
		FailedReason: h["failedReason"],
		AttemptsMade: atoi(h["atm"]),
		StalledCount: atoi(h["stc"]),
		ProcessedOn:  msTime(h["processedOn"]),
		FinishedOn:   msTime(h["finishedOn"]),
		ParentID:     h["parentId"],
		ParentQueue:  h["parentQueue"],
		ChildCount:   atoi(h["childCount"]),
	}
	if v, ok := h["progress"]; ok {
		job.Progress = []byte(v)
	}
	if v, ok := h["returnvalue"]; ok {
		job.ReturnValue = []byte(v)
	}
	if ts := msTime(h["timestamp"]); ts != nil {
		job.Timestamp = *ts
	}
	if raw := h["opts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Opts); err != nil {
			return nil, fmt.Errorf("jobs/redis: decode options of %s:%s: %w", queue, id, err)
		}
	}
	return job, nil
}
