package schedule

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/robfig/cron/v3"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Schedule computes the next run time of a repeatable job.
type Schedule interface {
	Next(from time.Time) time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific time each day, in UTC.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

type cronSchedule struct {
	schedule cron.Schedule
}

// ParseCron parses a five field cron expression.
func ParseCron(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("jobs: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{schedule: s}, nil
}

// Cron is like ParseCron but panics on an invalid expression.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// FromRepeat builds the schedule of a repeatable job.
func FromRepeat(r *core.Repeat) (Schedule, error) {
	if r == nil {
		return nil, core.NewValidationError("repeat", core.ErrInvalidRepeat)
	}
	switch {
	case r.Pattern != "" && r.Every > 0, r.Pattern == "" && r.Every <= 0:
		return nil, core.NewValidationError("repeat", core.ErrInvalidRepeat)
	case r.Every > 0:
		return Every(r.Every), nil
	}
	s, err := ParseCron(r.Pattern)
	if err != nil {
		return nil, core.NewValidationError("repeat", err)
	}
	return s, nil
}

// RepeatKey returns the key grouping the iterations of a repeatable job
// named name.
func RepeatKey(name string, r *core.Repeat) string {
	if r.Key != "" {
		return r.Key
	}
	if r.Pattern != "" {
		return name + ":" + r.Pattern
	}
	return name + ":" + r.Every.String()
}

// IterationID returns the deterministic custom id of the iteration due at
// runAt. Concurrent workers adding the same iteration collapse into one job.
// The key is hashed since cron patterns contain characters job ids may not.
func IterationID(key string, runAt time.Time) string {
	return fmt.Sprintf("repeat-%016x-%d", xxhash.Sum64String(key), runAt.UnixMilli())
}
