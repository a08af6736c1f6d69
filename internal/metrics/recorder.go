package metrics

import (
	"github.com/smazurov/linuxav/internal/events"
)

// Subscribe feeds stream events from bus into the metrics above.
// Call the returned function to stop.
func Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.FrameEvent) {
			ObserveFrame(e.Device, e.Direction, e.Sequence, e.BytesUsed, e.Corrupt, e.Latency)
		}),
		bus.Subscribe(func(e events.StreamStateEvent) {
			SetStreamState(e.Device, e.Direction, e.Buffers, e.State == events.StateStarted)
		}),
		bus.Subscribe(func(e events.QueueErrorEvent) {
			IncQueueError(e.Device, e.Direction, e.Code)
		}),
		bus.Subscribe(func(e events.LogEntryEvent) {
			IncLogEntry(e.Level, e.Module)
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
