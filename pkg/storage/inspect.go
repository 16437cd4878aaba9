package storage

import (
	"context"
	"sort"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// ListQueues returns every known queue with its per-state job counts.
func (s *GormStorage) ListQueues(ctx context.Context) ([]core.QueueStats, error) {
	db := s.db.WithContext(ctx)

	var metas []core.QueueMeta
	if err := db.Order("queue").Find(&metas).Error; err != nil {
		return nil, wrapErr("list queues", err)
	}

	type row struct {
		Queue string
		State string
		Count int64
	}
	var rows []row
	err := db.Model(&core.Job{}).
		Select("queue, state, count(*) as count").
		Group("queue, state").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("list queues", err)
	}

	statsMap := make(map[string]*core.QueueStats, len(metas))
	for _, m := range metas {
		statsMap[m.Queue] = &core.QueueStats{Queue: m.Queue, Paused: m.Paused, Counts: core.JobCounts{}}
	}
	for _, r := range rows {
		qs, ok := statsMap[r.Queue]
		if !ok {
			qs = &core.QueueStats{Queue: r.Queue, Counts: core.JobCounts{}}
			statsMap[r.Queue] = qs
		}
		qs.Counts[core.JobState(r.State)] = r.Count
	}

	result := make([]core.QueueStats, 0, len(statsMap))
	for _, qs := range statsMap {
		result = append(result, *qs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Queue < result[j].Queue })
	return result, nil
}

// SearchJobs returns jobs matching the filter with pagination and total count.
func (s *GormStorage) SearchJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})

	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Queue != "" {
		q = q.Where("queue = ?", filter.Queue)
	}
	if filter.Name != "" {
		q = q.Where("name = ?", filter.Name)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapErr("search jobs", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var jobs []*core.Job
	err := q.Order("timestamp DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, wrapErr("search jobs", err)
	}
	return jobs, total, nil
}
