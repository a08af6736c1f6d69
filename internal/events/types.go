package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeFrame uint32 = iota + 1
	TypeStreamState
	TypeQueueError
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Stream states carried by StreamStateEvent.
const (
	StateStarted = "started"
	StateStopped = "stopped"
	StateFailed  = "failed"
)

// FrameEvent is published for every buffer a stream hands back to the driver.
type FrameEvent struct {
	Device    string        `json:"device"`
	Direction string        `json:"direction"` // "capture" or "output"
	Index     uint32        `json:"index"`
	Sequence  uint32        `json:"sequence"`
	BytesUsed int           `json:"bytes_used"`
	Corrupt   bool          `json:"corrupt"`
	Keyframe  bool          `json:"keyframe"`
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"` // time spent inside the buffer callback
}

// Type returns the event type identifier for FrameEvent.
func (e FrameEvent) Type() uint32 { return TypeFrame }

// StreamStateEvent reports a stream starting, stopping or failing.
type StreamStateEvent struct {
	Device    string    `json:"device"`
	Direction string    `json:"direction"`
	State     string    `json:"state"`
	Buffers   int       `json:"buffers"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamStateEvent.
func (e StreamStateEvent) Type() uint32 { return TypeStreamState }

// QueueErrorEvent reports a failed enqueue or dequeue. The stream may still
// be usable; StreamStateEvent{State: StateFailed} follows if it is not.
type QueueErrorEvent struct {
	Device    string    `json:"device"`
	Direction string    `json:"direction"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for QueueErrorEvent.
func (e QueueErrorEvent) Type() uint32 { return TypeQueueError }

// LogEntryEvent mirrors a log entry onto the bus.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
