package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Compile-time interface checks.
var (
	_ core.Storage     = (*GormStorage)(nil)
	_ core.EventSource = (*GormStorage)(nil)
	_ core.EventPruner = (*GormStorage)(nil)
	_ core.Inspector   = (*GormStorage)(nil)
)

// TombstoneTTL is how long a removed flow parent reports the removed state.
const TombstoneTTL = 24 * time.Hour

// DefaultPollInterval is the polling period of WaitForJob and Subscribe.
const DefaultPollInterval = 100 * time.Millisecond

// GormOption configures a GormStorage.
type GormOption func(*GormStorage)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) GormOption {
	return func(s *GormStorage) { s.logger = l }
}

// WithClock replaces the wall clock used for timestamps and lease expiry.
func WithClock(now func() time.Time) GormOption {
	return func(s *GormStorage) { s.now = now }
}

// WithPollInterval sets how often blocking waits and event subscriptions
// poll the database.
func WithPollInterval(d time.Duration) GormOption {
	return func(s *GormStorage) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// GormStorage implements core.Storage using GORM.
//
// Every transition runs in one transaction that first locks the meta row of
// each queue it touches, so transitions of one queue are serialized the way
// a script is on Redis. Events are written to the job_events table in the
// same transaction.
type GormStorage struct {
	db           *gorm.DB
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...GormOption) *GormStorage {
	s := &GormStorage{
		db:           db,
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying GORM handle.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.QueueMeta{},
		&jobDependency{},
		&EventRecord{},
		&jobTombstone{},
	)
	return wrapErr("migrate", err)
}

// Ping verifies the database connection is alive.
func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapErr("ping", err)
	}
	return wrapErr("ping", sqlDB.PingContext(ctx))
}

// wrapErr adds the operation to err and marks connectivity failures.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		err = core.Unavailable(err)
	}
	return fmt.Errorf("jobs/gorm: %s: %w", op, err)
}

// txn is the state of one transition transaction.
type txn struct {
	tx     *gorm.DB
	now    time.Time
	metas  map[string]*core.QueueMeta
	dirty  map[string]bool
	events []EventRecord
}

// transact runs fn in a transaction. Sentinel errors returned by fn pass
// through unwrapped so callers can match them.
func (s *GormStorage) transact(ctx context.Context, op string, fn func(t *txn) error) error {
	now := time.UnixMilli(s.now().UnixMilli())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &txn{
			tx:    tx,
			now:   now,
			metas: make(map[string]*core.QueueMeta),
			dirty: make(map[string]bool),
		}
		if err := fn(t); err != nil {
			return err
		}
		return t.flush()
	})
	if err == nil || isSentinel(err) {
		return err
	}
	return wrapErr(op, err)
}

func isSentinel(err error) bool {
	return errors.Is(err, core.ErrJobNotFound) ||
		errors.Is(err, core.ErrLockMismatch) ||
		errors.Is(err, core.ErrJobNotActive) ||
		errors.Is(err, core.ErrJobActive) ||
		errors.Is(err, core.ErrDuplicateJob) ||
		errors.Is(err, core.ErrValidation)
}

// meta locks and returns the meta row of queue, creating it on first use.
func (t *txn) meta(queue string) (*core.QueueMeta, error) {
	if m, ok := t.metas[queue]; ok {
		return m, nil
	}
	err := t.tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&core.QueueMeta{Queue: queue}).Error
	if err != nil {
		return nil, err
	}
	var m core.QueueMeta
	err = t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue = ?", queue).
		Take(&m).Error
	if err != nil {
		return nil, err
	}
	t.metas[queue] = &m
	return &m, nil
}

func (t *txn) nextSeq(queue string) (int64, error) {
	m, err := t.meta(queue)
	if err != nil {
		return 0, err
	}
	m.Seq++
	t.dirty[queue] = true
	return m.Seq, nil
}

func (t *txn) nextID(queue string) (string, error) {
	m, err := t.meta(queue)
	if err != nil {
		return "", err
	}
	m.LastID++
	t.dirty[queue] = true
	return fmt.Sprintf("%d", m.LastID), nil
}

func (t *txn) emit(e core.Event) error {
	payload, err := core.EncodeEvent(e)
	if err != nil {
		return err
	}
	var queue string
	switch ev := e.(type) {
	case *core.JobEvent:
		queue = ev.Queue
	case *core.QueueEvent:
		queue = ev.Queue
	}
	t.events = append(t.events, EventRecord{
		Queue:     queue,
		Type:      string(e.Kind()),
		Payload:   payload,
		CreatedAt: t.now,
	})
	return nil
}

func (t *txn) jobEvent(typ core.EventType, job *core.Job, prev core.JobState) *core.JobEvent {
	return &core.JobEvent{
		Type:      typ,
		Queue:     job.Queue,
		JobID:     job.ID,
		Name:      job.Name,
		Prev:      prev,
		Timestamp: t.now,
	}
}

func (t *txn) flush() error {
	for q := range t.dirty {
		m := t.metas[q]
		err := t.tx.Model(&core.QueueMeta{}).
			Where("queue = ?", q).
			Updates(map[string]any{
				"paused":    m.Paused,
				"paused_at": m.PausedAt,
				"last_id":   m.LastID,
				"seq":       m.Seq,
			}).Error
		if err != nil {
			return err
		}
	}
	if len(t.events) > 0 {
		if err := t.tx.Create(&t.events).Error; err != nil {
			return err
		}
	}
	return nil
}

// lockJob loads a job row for update. Missing jobs return nil.
func (t *txn) lockJob(queue, id string) (*core.Job, error) {
	var job core.Job
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue = ? AND id = ?", queue, id).
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *txn) update(job *core.Job, fields map[string]any) error {
	return t.tx.Model(&core.Job{}).
		Where("queue = ? AND id = ?", job.Queue, job.ID).
		Updates(fields).Error
}

// checkLock verifies lease ownership. An empty token skips the token check
// but the job must still be active.
func (t *txn) checkLock(queue, id, token string) (*core.Job, error) {
	job, err := t.lockJob(queue, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}
	if token != "" {
		if job.State != core.StateActive || job.LockToken != token ||
			job.LockExpiresAt == nil || job.LockExpiresAt.Before(t.now) {
			return nil, core.ErrLockMismatch
		}
	} else if job.State != core.StateActive {
		return nil, core.ErrJobNotActive
	}
	return job, nil
}

// addToReady places job in the ready set of its queue and returns the new
// state.
func (t *txn) addToReady(job *core.Job) (core.JobState, error) {
	m, err := t.meta(job.Queue)
	if err != nil {
		return "", err
	}
	seq, err := t.nextSeq(job.Queue)
	if err != nil {
		return "", err
	}
	state := core.StateWaiting
	switch {
	case m.Paused:
		state = core.StatePaused
	case job.Priority > 0:
		state = core.StatePrioritized
	}
	err = t.update(job, map[string]any{
		"state":  state,
		"seq":    seq,
		"run_at": nil,
	})
	if err != nil {
		return "", err
	}
	job.State = state
	job.Seq = seq
	job.RunAt = nil
	return state, nil
}

// deleteJob removes the job row and the dependency rows it owns as a parent.
func (t *txn) deleteJob(job *core.Job) error {
	if err := t.tx.Where("parent_queue = ? AND parent_id = ?", job.Queue, job.ID).
		Delete(&jobDependency{}).Error; err != nil {
		return err
	}
	return t.tx.Where("queue = ? AND id = ?", job.Queue, job.ID).Delete(&core.Job{}).Error
}
