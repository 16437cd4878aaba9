package storage

import (
	"time"
)

// jobDependency links a flow parent to one child. Pending rows have
// Processed false; completed children keep their return value.
type jobDependency struct {
	ParentQueue string `gorm:"primaryKey;size:255"`
	ParentID    string `gorm:"primaryKey;size:255"`
	ChildQueue  string `gorm:"primaryKey;size:255;index:idx_dep_child"`
	ChildID     string `gorm:"primaryKey;size:255;index:idx_dep_child"`
	Processed   bool   `gorm:"default:false"`
	ReturnValue []byte `gorm:"type:bytes"`
}

func (jobDependency) TableName() string { return "job_dependencies" }

// EventRecord is one row of the job_events outbox. Subscribers tail the
// table by ID.
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Queue     string    `gorm:"index:idx_events_queue;size:255"`
	Type      string    `gorm:"size:32"`
	Payload   []byte    `gorm:"type:bytes"`
	CreatedAt time.Time `gorm:"index"`
}

func (EventRecord) TableName() string { return "job_events" }

// jobTombstone marks a flow parent that was deleted because of its children.
type jobTombstone struct {
	Queue     string    `gorm:"primaryKey;size:255"`
	ID        string    `gorm:"primaryKey;size:255"`
	ExpiresAt time.Time `gorm:"index"`
}

func (jobTombstone) TableName() string { return "job_tombstones" }
