package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task lifecycle events, one per controller state transition.
	EventTaskStarted     EventType = "task.started"
	EventTaskPaused      EventType = "task.paused"
	EventTaskInterrupted EventType = "task.interrupted"
	EventTaskResumed     EventType = "task.resumed"
	EventTaskFinished    EventType = "task.finished"
	EventTaskCrashed     EventType = "task.crashed"

	// Engine-wide (global pause) events.
	EventWorkerPaused            EventType = "worker.paused"
	EventWorkerResumed           EventType = "worker.resumed"
	EventWorkerWatchdogTriggered EventType = "worker.watchdog_triggered"

	// System events
	EventHeapDepth     EventType = "heap.depth"
	EventSystemMetrics EventType = "system.metrics"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	SubscribeAll(ctx context.Context) (<-chan *Event, error)
	Close() error
}

// Subscriber represents an event subscriber
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}

// TaskEventData creates event data for a controller state transition.
func TaskEventData(name string, cid int64, state string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"task_name": name,
		"cid":       cid,
		"state":     state,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData creates event data for an engine-wide pause/resume event.
func WorkerEventData(interrupt bool, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"interrupt": interrupt,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// HeapDepthData creates event data for a scheduling-heap depth sample.
func HeapDepthData(heapDepth, pausedControllers int) map[string]interface{} {
	return map[string]interface{}{
		"heap_depth":         heapDepth,
		"paused_controllers": pausedControllers,
	}
}
