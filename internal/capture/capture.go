//go:build linux

// Package capture runs V4L2 buffer streams for the command line tools: it
// pulls frames from capture devices, pushes frames to output devices and
// reports every buffer round trip on the event bus.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/linuxav/internal/events"
	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// Direction labels used in events and metrics.
const (
	DirectionCapture = "capture"
	DirectionOutput  = "output"
)

const defaultPollInterval = 200 * time.Millisecond

// Buffer is a filled capture buffer. *v4l2.ReadBufferView implements it.
// It is only valid inside the callback it was passed to.
type Buffer interface {
	Bytes() []byte
	Index() uint32
	Sequence() uint32
	Timestamp() time.Time
	IsError() bool
	IsKeyframe() bool
}

// Source is a capture queue.
type Source interface {
	Next(fn func(Buffer) error) error
	Wait(timeout time.Duration) (bool, error)
	Len() int
	Close() error
}

// Config controls a capture or output session.
type Config struct {
	// Device labels events and metrics.
	Device string
	// Frames stops the session after this many buffers; 0 runs until the
	// context is cancelled.
	Frames int
	// PollInterval bounds each wait so cancellation is noticed.
	PollInterval time.Duration
	// SkipCorrupt drops buffers the driver flagged as errored instead of
	// passing them to the callback.
	SkipCorrupt bool
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return defaultPollInterval
	}
	return c.PollInterval
}

// Session drives one capture source.
type Session struct {
	cfg    Config
	src    Source
	bus    *events.Bus
	logger *slog.Logger
}

// NewSession creates a session reading from src. bus may be nil.
func NewSession(src Source, bus *events.Bus, cfg Config) *Session {
	return &Session{
		cfg:    cfg,
		src:    src,
		bus:    bus,
		logger: logging.GetLogger("capture").With("device", cfg.Device),
	}
}

// Run passes each filled buffer to fn until ctx is cancelled, the frame
// limit is reached or an error occurs. It returns the number of buffers
// handed to fn. A cancelled context is not an error.
func (s *Session) Run(ctx context.Context, fn func(Buffer) error) (int, error) {
	s.publishState(events.StateStarted, nil)
	s.logger.Info("Capture started", "buffers", s.src.Len())

	count, err := s.loop(ctx, fn)
	if err != nil {
		s.publishState(events.StateFailed, err)
		s.logger.Error("Capture failed", "frames", count, "error", err)
		return count, err
	}

	s.publishState(events.StateStopped, nil)
	s.logger.Info("Capture stopped", "frames", count)
	return count, nil
}

func (s *Session) loop(ctx context.Context, fn func(Buffer) error) (int, error) {
	count := 0
	for s.cfg.Frames == 0 || count < s.cfg.Frames {
		if ctx.Err() != nil {
			return count, nil
		}

		ready, err := s.src.Wait(s.cfg.pollInterval())
		if err != nil {
			return count, err
		}
		if !ready {
			continue
		}

		delivered := false
		err = s.src.Next(func(b Buffer) error {
			if b.IsError() {
				s.logger.Debug("Driver flagged buffer as corrupt", "index", b.Index(), "sequence", b.Sequence())
				if s.cfg.SkipCorrupt {
					s.publishFrame(b, 0)
					return nil
				}
			}
			delivered = true
			start := time.Now()
			cbErr := fn(b)
			s.publishFrame(b, time.Since(start))
			return cbErr
		})
		if err != nil {
			if isQueueError(err) {
				s.publishQueueError(err)
			}
			return count, err
		}
		if delivered {
			count++
		}
	}
	return count, nil
}

func (s *Session) publishFrame(b Buffer, latency time.Duration) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.FrameEvent{
		Device:    s.cfg.Device,
		Direction: DirectionCapture,
		Index:     b.Index(),
		Sequence:  b.Sequence(),
		BytesUsed: len(b.Bytes()),
		Corrupt:   b.IsError(),
		Keyframe:  b.IsKeyframe(),
		Timestamp: b.Timestamp(),
		Latency:   latency,
	})
}

func (s *Session) publishState(state string, err error) {
	publishState(s.bus, s.cfg.Device, DirectionCapture, state, s.src.Len(), err)
}

func (s *Session) publishQueueError(err error) {
	publishQueueError(s.bus, s.cfg.Device, DirectionCapture, err)
}

func publishState(bus *events.Bus, device, direction, state string, buffers int, err error) {
	if bus == nil {
		return
	}
	ev := events.StreamStateEvent{
		Device:    device,
		Direction: direction,
		State:     state,
		Buffers:   buffers,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	bus.Publish(ev)
}

func publishQueueError(bus *events.Bus, device, direction string, err error) {
	if bus == nil {
		return
	}
	bus.Publish(events.QueueErrorEvent{
		Device:    device,
		Direction: direction,
		Code:      errorCode(err),
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

func isQueueError(err error) bool {
	return errors.Is(err, v4l2.ErrQueue) || errors.Is(err, v4l2.ErrStreamControl)
}

func errorCode(err error) string {
	var e *v4l2.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "UNKNOWN"
}
