// Package sink adapts a running task body's log stream to the engine's
// two ambient outputs: structured zerolog events and the event bus a
// websocket client or remote admin tails.
package sink

import (
	"context"

	"github.com/nrlund/macrocore/internal/controller"
	"github.com/nrlund/macrocore/internal/events"
	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/task"
)

// EventSink implements controller.Sink: every Log/LogError call is
// written to the process log at the matching level. Only LogError is also
// republished, as a task.crashed event, so a connected admin client sees
// it without tailing logs; Log packets are not published to the event bus.
type EventSink struct {
	publisher events.Publisher
}

var _ controller.Sink = (*EventSink)(nil)

// New creates a Sink that fans out to publisher. publisher may be nil, in
// which case events are only logged, never published.
func New(publisher events.Publisher) *EventSink {
	return &EventSink{publisher: publisher}
}

// Log implements controller.Sink.
func (s *EventSink) Log(p task.LogPacket) {
	ev := logger.WithComponent("task").With().Str("task_name", p.TaskName).Logger()
	entry := ev.Info()
	switch p.Level {
	case task.LevelWarn:
		entry = ev.Warn()
	case task.LevelError:
		entry = ev.Error()
	}
	entry.Interface("parts", p.Parts).Msg("task log")
}

// LogError implements controller.Sink.
func (s *EventSink) LogError(p task.LogErrorPacket) {
	logger.Error().
		Str("task_name", p.TaskName).
		Str("traceback", p.Traceback).
		Msg(p.Message)

	if s.publisher == nil {
		return
	}
	event := events.NewEvent(events.EventTaskCrashed, map[string]interface{}{
		"task_name": p.TaskName,
		"message":   p.Message,
		"traceback": p.Traceback,
	})
	if err := s.publisher.Publish(context.Background(), event); err != nil {
		logger.Error().Err(err).Msg("failed to publish task crash event")
	}
}
