package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a transition notification.
type EventType string

const (
	EventAdded           EventType = "added"
	EventWaiting         EventType = "waiting"
	EventDelayed         EventType = "delayed"
	EventPrioritized     EventType = "prioritized"
	EventWaitingChildren EventType = "waiting-children"
	EventActive          EventType = "active"
	EventProgress        EventType = "progress"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
	EventRetrying        EventType = "retrying"
	EventStalled         EventType = "stalled"
	EventRemoved         EventType = "removed"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
	EventDrained         EventType = "drained"
	EventCleaned         EventType = "cleaned"
)

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
	Kind() EventType
}

// JobEvent reports a transition of a single job.
type JobEvent struct {
	Type         EventType
	Queue        string
	JobID        string
	Name         string
	Prev         JobState
	ReturnValue  []byte
	FailedReason string
	Progress     []byte
	Delay        time.Duration
	Timestamp    time.Time
}

func (*JobEvent) eventMarker()      {}
func (e *JobEvent) Kind() EventType { return e.Type }

// QueueEvent reports a queue-wide transition.
type QueueEvent struct {
	Type      EventType
	Queue     string
	Count     int
	Timestamp time.Time
}

func (*QueueEvent) eventMarker()      {}
func (e *QueueEvent) Kind() EventType { return e.Type }

// EventSource streams the events of one queue. The channel is closed when
// ctx is done.
type EventSource interface {
	Subscribe(ctx context.Context, queue string) (<-chan Event, error)
}

// wireEvent is the JSON shape every backend publishes.
type wireEvent struct {
	Event        EventType       `json:"event"`
	Queue        string          `json:"queue"`
	JobID        string          `json:"jobId,omitempty"`
	Name         string          `json:"name,omitempty"`
	Prev         string          `json:"prev,omitempty"`
	ReturnValue  string          `json:"returnvalue,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	Progress     string          `json:"progress,omitempty"`
	Delay        float64         `json:"delay,omitempty"`
	Count        float64         `json:"count,omitempty"`
	Ts           float64         `json:"ts"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// EncodeEvent serializes e in the wire format shared by all backends.
func EncodeEvent(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case *JobEvent:
		return json.Marshal(wireEvent{
			Event:        ev.Type,
			Queue:        ev.Queue,
			JobID:        ev.JobID,
			Name:         ev.Name,
			Prev:         string(ev.Prev),
			ReturnValue:  string(ev.ReturnValue),
			FailedReason: ev.FailedReason,
			Progress:     string(ev.Progress),
			Delay:        float64(ev.Delay.Milliseconds()),
			Ts:           float64(ev.Timestamp.UnixMilli()),
		})
	case *QueueEvent:
		return json.Marshal(wireEvent{
			Event: ev.Type,
			Queue: ev.Queue,
			Count: float64(ev.Count),
			Ts:    float64(ev.Timestamp.UnixMilli()),
		})
	default:
		return nil, fmt.Errorf("jobs: unsupported event %T", e)
	}
}

// DecodeEvent parses a wire event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("jobs: decode event: %w", err)
	}
	ts := time.UnixMilli(int64(w.Ts))
	switch w.Event {
	case EventPaused, EventResumed, EventDrained, EventCleaned:
		return &QueueEvent{Type: w.Event, Queue: w.Queue, Count: int(w.Count), Timestamp: ts}, nil
	case "":
		return nil, fmt.Errorf("jobs: decode event: missing event type")
	}
	ev := &JobEvent{
		Type:         w.Event,
		Queue:        w.Queue,
		JobID:        w.JobID,
		Name:         w.Name,
		Prev:         JobState(w.Prev),
		FailedReason: w.FailedReason,
		Delay:        time.Duration(w.Delay) * time.Millisecond,
		Timestamp:    ts,
	}
	if w.ReturnValue != "" {
		ev.ReturnValue = []byte(w.ReturnValue)
	}
	if w.Progress != "" {
		ev.Progress = []byte(w.Progress)
	}
	return ev, nil
}
