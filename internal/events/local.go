package events

import (
	"context"
	"sync"
)

// localSubscriber holds one Subscribe caller's channel and the event types
// it asked to hear about; empty types means "everything" (SubscribeAll's
// in-process equivalent).
type localSubscriber struct {
	ch    chan *Event
	types map[EventType]bool
}

// Local is an in-process Publisher: Publish fans an event out to every
// current subscriber's buffered channel, dropping it for a subscriber
// whose channel is full rather than blocking the publisher. It is the
// default for a single-process embedding with no Redis dependency.
type Local struct {
	mu   sync.RWMutex
	subs map[int]*localSubscriber
	next int
}

// NewLocal creates an empty in-process publisher.
func NewLocal() *Local {
	return &Local{subs: make(map[int]*localSubscriber)}
}

// Publish implements Publisher.
func (l *Local) Publish(ctx context.Context, event *Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.subs {
		if len(s.types) > 0 && !s.types[event.Type] {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe implements Publisher. The returned channel is closed when ctx
// is canceled.
func (l *Local) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	types := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}

	l.mu.Lock()
	id := l.next
	l.next++
	sub := &localSubscriber{ch: make(chan *Event, 100), types: types}
	l.subs[id] = sub
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// SubscribeAll implements Publisher by subscribing with no type filter.
func (l *Local) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	return l.Subscribe(ctx)
}

// Close implements Publisher; it drops every current subscriber without
// closing their channels (Subscribe's own ctx cancellation owns that).
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = make(map[int]*localSubscriber)
	return nil
}
