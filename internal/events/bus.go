package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// Each subscriber is called on its own goroutine, in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(FrameEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the static type, so recover it here.
	switch e := ev.(type) {
	case FrameEvent:
		event.Publish(b.dispatcher, e)
	case StreamStateEvent:
		event.Publish(b.dispatcher, e)
	case QueueErrorEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e FrameEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(FrameEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

