package storage

import (
	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// pendingDeps counts the unresolved children of a parent.
func (t *txn) pendingDeps(queue, id string) (int64, error) {
	var n int64
	err := t.tx.Model(&jobDependency{}).
		Where("parent_queue = ? AND parent_id = ? AND processed = ?", queue, id, false).
		Count(&n).Error
	return n, err
}

// syncDeps stores the pending child count on the parent and moves it to its
// ready set once nothing is pending.
func (t *txn) syncDeps(parent *core.Job) error {
	n, err := t.pendingDeps(parent.Queue, parent.ID)
	if err != nil {
		return err
	}
	if err := t.update(parent, map[string]any{"dependency_count": n}); err != nil {
		return err
	}
	parent.DependencyCount = int(n)
	if n > 0 || parent.State != core.StateWaitingChildren {
		return nil
	}
	state, err := t.addToReady(parent)
	if err != nil {
		return err
	}
	return t.emit(t.jobEvent(core.EventType(state), parent, core.StateWaitingChildren))
}

// completeChild records the return value of child on its parent.
func (t *txn) completeChild(child *core.Job, value []byte) error {
	if _, err := t.meta(child.ParentQueue); err != nil {
		return err
	}
	res := t.tx.Model(&jobDependency{}).
		Where("parent_queue = ? AND parent_id = ? AND child_queue = ? AND child_id = ? AND processed = ?",
			child.ParentQueue, child.ParentID, child.Queue, child.ID, false).
		Updates(map[string]any{"processed": true, "return_value": value})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	parent, err := t.lockJob(child.ParentQueue, child.ParentID)
	if err != nil || parent == nil {
		return err
	}
	return t.syncDeps(parent)
}

// failParent fails a waiting parent. Its pending children keep running and
// their later resolutions are no-ops.
func (t *txn) failParent(parent *core.Job, reason string) error {
	err := t.tx.Where("parent_queue = ? AND parent_id = ? AND processed = ?", parent.Queue, parent.ID, false).
		Delete(&jobDependency{}).Error
	if err != nil {
		return err
	}
	err = t.update(parent, map[string]any{
		"state":            core.StateFailed,
		"failed_reason":    reason,
		"finished_on":      t.now,
		"dependency_count": 0,
	})
	if err != nil {
		return err
	}
	parent.State = core.StateFailed
	ev := t.jobEvent(core.EventFailed, parent, core.StateWaitingChildren)
	ev.FailedReason = reason
	if err := t.emit(ev); err != nil {
		return err
	}
	if parent.HasParent() {
		return t.resolveLostChild(parent, "failed")
	}
	return nil
}

// removeParent deletes a waiting parent and leaves a tombstone so its state
// reads as removed for TombstoneTTL.
func (t *txn) removeParent(parent *core.Job) error {
	if err := t.deleteJob(parent); err != nil {
		return err
	}
	err := t.tx.Save(&jobTombstone{
		Queue:     parent.Queue,
		ID:        parent.ID,
		ExpiresAt: t.now.Add(TombstoneTTL),
	}).Error
	if err != nil {
		return err
	}
	if err := t.emit(t.jobEvent(core.EventRemoved, parent, core.StateWaitingChildren)); err != nil {
		return err
	}
	if parent.HasParent() {
		return t.resolveLostChild(parent, "failed")
	}
	return nil
}

// resolveLostChild settles the parent of a child that failed for good
// ("failed") or was deleted ("removed"). A removal across queues counts as
// a resolution. Anything else fails the parent, or deletes it when it had a
// single child.
func (t *txn) resolveLostChild(child *core.Job, kind string) error {
	if _, err := t.meta(child.ParentQueue); err != nil {
		return err
	}
	parent, err := t.lockJob(child.ParentQueue, child.ParentID)
	if err != nil {
		return err
	}
	if parent == nil || parent.State != core.StateWaitingChildren {
		return nil
	}
	if kind == "removed" && parent.Queue != child.Queue {
		res := t.tx.Where("parent_queue = ? AND parent_id = ? AND child_queue = ? AND child_id = ? AND processed = ?",
			parent.Queue, parent.ID, child.Queue, child.ID, false).
			Delete(&jobDependency{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return t.syncDeps(parent)
	}
	if parent.ChildCount <= 1 {
		return t.removeParent(parent)
	}
	return t.failParent(parent, "child "+child.Key().String()+" "+kind)
}

// removeJob deletes a job that is not active. Unfinished children resolve
// their parent; finished ones already did.
func (t *txn) removeJob(job *core.Job, prev core.JobState) error {
	if err := t.deleteJob(job); err != nil {
		return err
	}
	if err := t.emit(t.jobEvent(core.EventRemoved, job, prev)); err != nil {
		return err
	}
	if job.HasParent() && prev != core.StateCompleted && prev != core.StateFailed {
		return t.resolveLostChild(job, "removed")
	}
	return nil
}

// finishFailed fails an active job for good.
func (t *txn) finishFailed(job *core.Job, reason string) error {
	err := t.update(job, map[string]any{
		"state":         core.StateFailed,
		"failed_reason": reason,
		"finished_on":   t.now,
	})
	if err != nil {
		return err
	}
	job.State = core.StateFailed
	job.FailedReason = reason
	ev := t.jobEvent(core.EventFailed, job, core.StateActive)
	ev.FailedReason = reason
	if err := t.emit(ev); err != nil {
		return err
	}
	if job.HasParent() {
		if err := t.resolveLostChild(job, "failed"); err != nil {
			return err
		}
	}
	if job.Opts.RemoveOnFail {
		return t.deleteJob(job)
	}
	return nil
}
