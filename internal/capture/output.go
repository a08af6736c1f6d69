//go:build linux

package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/linuxav/internal/events"
	"github.com/smazurov/linuxav/internal/logging"
)

// OutBuffer is an empty output buffer. *v4l2.WriteBufferView implements it.
type OutBuffer interface {
	Bytes() []byte
	SetBytesUsed(n int) error
	Index() uint32
}

// Sink is an output queue.
type Sink interface {
	Next(fn func(OutBuffer) error) error
	Wait(timeout time.Duration) (bool, error)
	Len() int
	Close() error
}

// FillFunc writes frame number n into buf and returns the bytes used.
type FillFunc func(buf []byte, n int) (int, error)

// Feeder drives one output sink.
type Feeder struct {
	cfg    Config
	sink   Sink
	bus    *events.Bus
	logger *slog.Logger
}

// NewFeeder creates a feeder writing to sink. bus may be nil.
func NewFeeder(sink Sink, bus *events.Bus, cfg Config) *Feeder {
	return &Feeder{
		cfg:    cfg,
		sink:   sink,
		bus:    bus,
		logger: logging.GetLogger("capture").With("device", cfg.Device),
	}
}

// Run fills and enqueues buffers until ctx is cancelled, the frame limit is
// reached or an error occurs. It returns the number of buffers enqueued.
func (f *Feeder) Run(ctx context.Context, fill FillFunc) (int, error) {
	publishState(f.bus, f.cfg.Device, DirectionOutput, events.StateStarted, f.sink.Len(), nil)
	f.logger.Info("Output started", "buffers", f.sink.Len())

	count, err := f.loop(ctx, fill)
	if err != nil {
		publishState(f.bus, f.cfg.Device, DirectionOutput, events.StateFailed, f.sink.Len(), err)
		f.logger.Error("Output failed", "frames", count, "error", err)
		return count, err
	}

	publishState(f.bus, f.cfg.Device, DirectionOutput, events.StateStopped, f.sink.Len(), nil)
	f.logger.Info("Output stopped", "frames", count)
	return count, nil
}

func (f *Feeder) loop(ctx context.Context, fill FillFunc) (int, error) {
	count := 0
	for f.cfg.Frames == 0 || count < f.cfg.Frames {
		if ctx.Err() != nil {
			return count, nil
		}

		// Only wait once every buffer has been handed to the driver.
		if count >= f.sink.Len() {
			ready, err := f.sink.Wait(f.cfg.pollInterval())
			if err != nil {
				return count, err
			}
			if !ready {
				continue
			}
		}

		var index uint32
		var used int
		start := time.Now()
		err := f.sink.Next(func(b OutBuffer) error {
			n, fillErr := fill(b.Bytes(), count)
			if fillErr != nil {
				return fillErr
			}
			index, used = b.Index(), n
			return b.SetBytesUsed(n)
		})
		if err != nil {
			if isQueueError(err) {
				publishQueueError(f.bus, f.cfg.Device, DirectionOutput, err)
			}
			return count, err
		}

		if f.bus != nil {
			f.bus.Publish(events.FrameEvent{
				Device:    f.cfg.Device,
				Direction: DirectionOutput,
				Index:     index,
				Sequence:  uint32(count),
				BytesUsed: used,
				Timestamp: time.Now(),
				Latency:   time.Since(start),
			})
		}
		count++
	}
	return count, nil
}
