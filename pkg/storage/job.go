package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

// AddJobs inserts independent jobs in one transaction.
func (s *GormStorage) AddJobs(ctx context.Context, jobs []*core.Job) error {
	nodes := make([]core.FlowNode, len(jobs))
	for i, j := range jobs {
		nodes[i] = core.FlowNode{Job: j, Parent: -1}
	}
	return s.addNodes(ctx, false, nodes)
}

// AddFlow inserts a flow tree in one transaction.
func (s *GormStorage) AddFlow(ctx context.Context, nodes []core.FlowNode) error {
	return s.addNodes(ctx, true, nodes)
}

func (s *GormStorage) addNodes(ctx context.Context, flow bool, nodes []core.FlowNode) error {
	if len(nodes) == 0 {
		return nil
	}
	for i, n := range nodes {
		if n.Parent >= i {
			return core.NewValidationError("flow", fmt.Errorf("node %d references parent %d out of order", i, n.Parent))
		}
		if n.Job.Name == "" {
			n.Job.Name = core.DefaultJobName
		}
		n.Job.Opts.Attempts = security.ClampAttempts(n.Job.Opts.Attempts)
		if err := security.ValidateJob(n.Job); err != nil {
			return err
		}
	}

	rows := make([]core.Job, len(nodes))
	err := s.transact(ctx, "add jobs", func(t *txn) error {
		// Custom ids that already exist, or repeat inside the batch, are
		// reported instead of inserted. A flow must be inserted whole.
		skip := make(map[int]bool)
		seen := make(map[core.JobKey]int)
		dupOf := make(map[int]int)
		for i, n := range nodes {
			if n.Job.Opts.JobID == "" {
				continue
			}
			key := core.JobKey{Queue: n.Job.Queue, ID: n.Job.Opts.JobID}
			if first, ok := seen[key]; ok {
				if flow {
					return core.ErrDuplicateJob
				}
				skip[i] = true
				dupOf[i] = first
				continue
			}
			seen[key] = i
			if _, err := t.meta(key.Queue); err != nil {
				return err
			}
			existing, err := t.lockJob(key.Queue, key.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				if flow {
					return core.ErrDuplicateJob
				}
				skip[i] = true
				rows[i] = *existing
			}
		}

		for i, n := range nodes {
			if skip[i] {
				continue
			}
			id := n.Job.Opts.JobID
			if id == "" {
				var err error
				if id, err = t.nextID(n.Job.Queue); err != nil {
					return err
				}
			}
			row := core.Job{
				Queue:     n.Job.Queue,
				ID:        id,
				Name:      n.Job.Name,
				Data:      n.Job.Data,
				Opts:      n.Job.Opts,
				Priority:  n.Job.Opts.Priority,
				Timestamp: t.now,
			}
			if n.Parent >= 0 {
				row.ParentID = rows[n.Parent].ID
				row.ParentQueue = rows[n.Parent].Queue
			}
			if n.Children > 0 {
				row.State = core.StateWaitingChildren
				row.ChildCount = n.Children
				row.DependencyCount = n.Children
			} else if n.Job.Opts.Delay > 0 {
				runAt := t.now.Add(n.Job.Opts.Delay)
				row.State = core.StateDelayed
				row.RunAt = &runAt
			}
			if err := t.tx.Create(&row).Error; err != nil {
				return err
			}
			if err := t.emit(t.jobEvent(core.EventAdded, &row, "")); err != nil {
				return err
			}
			if row.ParentID != "" {
				dep := jobDependency{
					ParentQueue: row.ParentQueue,
					ParentID:    row.ParentID,
					ChildQueue:  row.Queue,
					ChildID:     row.ID,
				}
				if err := t.tx.Create(&dep).Error; err != nil {
					return err
				}
			}

			ev := t.jobEvent(core.EventType(row.State), &row, "")
			switch row.State {
			case core.StateWaitingChildren:
			case core.StateDelayed:
				ev.Delay = n.Job.Opts.Delay
			default:
				state, err := t.addToReady(&row)
				if err != nil {
					return err
				}
				ev.Type = core.EventType(state)
			}
			if err := t.emit(ev); err != nil {
				return err
			}
			rows[i] = row
		}
		for i, first := range dupOf {
			rows[i] = rows[first]
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, n := range nodes {
		n.Job.ID = rows[i].ID
		n.Job.State = rows[i].State
		n.Job.Priority = n.Job.Opts.Priority
		if n.Job.Timestamp.IsZero() {
			n.Job.Timestamp = rows[i].Timestamp
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
func (s *GormStorage) GetJob(ctx context.Context, queue, id string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).Where("queue = ? AND id = ?", queue, id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	if job.State != core.StateActive {
		job.LockToken = ""
		job.LockExpiresAt = nil
	}
	return &job, nil
}

// GetJobState reports the state of a job, removed for tombstoned parents
// and unknown for missing jobs.
func (s *GormStorage) GetJobState(ctx context.Context, queue, id string) (core.JobState, error) {
	db := s.db.WithContext(ctx)
	var states []string
	err := db.Model(&core.Job{}).
		Where("queue = ? AND id = ?", queue, id).
		Limit(1).
		Pluck("state", &states).Error
	if err != nil {
		return core.StateUnknown, wrapErr("get job state", err)
	}
	if len(states) > 0 {
		return core.JobState(states[0]), nil
	}
	var n int64
	err = db.Model(&jobTombstone{}).
		Where("queue = ? AND id = ? AND expires_at > ?", queue, id, s.now()).
		Count(&n).Error
	if err != nil {
		return core.StateUnknown, wrapErr("get job state", err)
	}
	if n > 0 {
		return core.StateRemoved, nil
	}
	return core.StateUnknown, nil
}

// GetDependencies lists the pending and processed children of a parent.
func (s *GormStorage) GetDependencies(ctx context.Context, queue, id string) (*core.Dependencies, error) {
	var rows []jobDependency
	err := s.db.WithContext(ctx).
		Where("parent_queue = ? AND parent_id = ?", queue, id).
		Order("child_queue, child_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("get dependencies", err)
	}
	deps := &core.Dependencies{Processed: make(map[core.JobKey][]byte)}
	for _, r := range rows {
		key := core.JobKey{Queue: r.ChildQueue, ID: r.ChildID}
		if r.Processed {
			deps.Processed[key] = r.ReturnValue
		} else {
			deps.Pending = append(deps.Pending, key)
		}
	}
	return deps, nil
}
