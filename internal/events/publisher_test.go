package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	// Verify all event types are defined correctly
	assert.Equal(t, EventType("task.started"), EventTaskStarted)
	assert.Equal(t, EventType("task.paused"), EventTaskPaused)
	assert.Equal(t, EventType("task.interrupted"), EventTaskInterrupted)
	assert.Equal(t, EventType("task.resumed"), EventTaskResumed)
	assert.Equal(t, EventType("task.finished"), EventTaskFinished)
	assert.Equal(t, EventType("task.crashed"), EventTaskCrashed)
	assert.Equal(t, EventType("worker.paused"), EventWorkerPaused)
	assert.Equal(t, EventType("worker.resumed"), EventWorkerResumed)
	assert.Equal(t, EventType("worker.watchdog_triggered"), EventWorkerWatchdogTriggered)
	assert.Equal(t, EventType("heap.depth"), EventHeapDepth)
	assert.Equal(t, EventType("system.metrics"), EventSystemMetrics)
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"task_name": "clicker",
		"cid":       int64(1),
	}

	event := NewEvent(EventTaskStarted, data)

	assert.Equal(t, EventTaskStarted, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTaskFinished,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"task_name": "clicker",
			"result":    "success",
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.finished", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.crashed",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"task_name": "clicker", "error": "timeout"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventTaskCrashed, event.Type)
	assert.Equal(t, "clicker", event.Data["task_name"])
	assert.Equal(t, "timeout", event.Data["error"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventWorkerPaused, map[string]interface{}{
		"interrupt": true,
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["interrupt"], restored.Data["interrupt"])
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData("clicker", 1, "INTERRUPTED", map[string]interface{}{
		"reason": "global pause",
	})

	assert.Equal(t, "clicker", data["task_name"])
	assert.Equal(t, int64(1), data["cid"])
	assert.Equal(t, "INTERRUPTED", data["state"])
	assert.Equal(t, "global pause", data["reason"])
}

func TestTaskEventData_NoExtra(t *testing.T) {
	data := TaskEventData("clicker", 2, "RUNNING", nil)

	assert.Equal(t, "clicker", data["task_name"])
	assert.Equal(t, int64(2), data["cid"])
	assert.Equal(t, "RUNNING", data["state"])
	assert.Len(t, data, 3)
}

func TestWorkerEventData(t *testing.T) {
	data := WorkerEventData(true, map[string]interface{}{
		"controllers_paused": 5,
	})

	assert.Equal(t, true, data["interrupt"])
	assert.Equal(t, 5, data["controllers_paused"])
}

func TestWorkerEventData_NoExtra(t *testing.T) {
	data := WorkerEventData(false, nil)

	assert.Equal(t, false, data["interrupt"])
	assert.Len(t, data, 1)
}

func TestHeapDepthData(t *testing.T) {
	data := HeapDepthData(7, 2)

	assert.Equal(t, 7, data["heap_depth"])
	assert.Equal(t, 2, data["paused_controllers"])
}
