package storage

import (
	"context"
	"time"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

const eventBatchSize = 500

// Subscribe tails the job_events table for queue until ctx is done. Only
// events written after Subscribe returns are delivered.
func (s *GormStorage) Subscribe(ctx context.Context, queue string) (<-chan core.Event, error) {
	var last int64
	err := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&last).Error
	if err != nil {
		return nil, wrapErr("subscribe", err)
	}

	out := make(chan core.Event, 100)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			var rows []EventRecord
			err := s.db.WithContext(ctx).
				Where("queue = ? AND id > ?", queue, last).
				Order("id").
				Limit(eventBatchSize).
				Find(&rows).Error
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("event poll failed", "queue", queue, "error", err)
				continue
			}
			for _, r := range rows {
				last = r.ID
				ev, err := core.DecodeEvent(r.Payload)
				if err != nil {
					s.logger.Warn("dropping malformed event", "queue", queue, "id", r.ID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// PruneEvents deletes events written before the cutoff, along with expired
// tombstones.
func (s *GormStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	db := s.db.WithContext(ctx)
	res := db.Where("created_at < ?", before).Delete(&EventRecord{})
	if res.Error != nil {
		return 0, wrapErr("prune events", res.Error)
	}
	if err := db.Where("expires_at <= ?", s.now()).Delete(&jobTombstone{}).Error; err != nil {
		return res.RowsAffected, wrapErr("prune tombstones", err)
	}
	return res.RowsAffected, nil
}
