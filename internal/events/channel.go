package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to
// channels, for callers that wait on events in a select loop. Events are
// dropped when ch is full so a slow reader never stalls the publisher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- T) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
