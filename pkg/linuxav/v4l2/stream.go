//go:build linux

package v4l2

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// StreamOption configures a ReadStream or WriteStream.
type StreamOption func(*streamOptions)

type streamOptions struct {
	logger      *slog.Logger
	manualStart bool
}

// WithLogger sets the logger used for allocation warnings and teardown errors.
// Defaults to slog.Default() tagged with component=v4l2.
func WithLogger(logger *slog.Logger) StreamOption {
	return func(o *streamOptions) {
		o.logger = logger
	}
}

// WithManualStart disables the automatic STREAMON a WriteStream issues after
// its first successful enqueue. The caller must then call Start.
func WithManualStart() StreamOption {
	return func(o *streamOptions) {
		o.manualStart = true
	}
}

func buildOptions(opts []StreamOption) streamOptions {
	o := streamOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "v4l2")
	}
	return o
}

// stream is the state shared by ReadStream and WriteStream: the pool, the
// device it was allocated on, and the single-owner guard.
type stream struct {
	drv       queueDriver
	closeFd   func() error
	fd        int
	pool      *bufferPool
	typ       BufType
	streaming bool
	closed    bool
	busy      atomic.Bool
	logger    *slog.Logger
}

// acquire claims the stream for one operation. Streams have exactly one
// owner; overlapping use means a callback escaped or two goroutines share it.
func (s *stream) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrStreamBusy
	}
	if s.closed {
		s.busy.Store(false)
		return ErrStreamClosed
	}
	return nil
}

func (s *stream) releaseBusy() {
	s.busy.Store(false)
}

func (s *stream) streamOn() error {
	if s.streaming {
		return nil
	}
	if err := s.drv.streamOn(s.typ); err != nil {
		return newError(ErrCodeStreamControl, fmt.Sprintf("failed to start %s streaming", s.typ), err)
	}
	s.streaming = true
	s.logger.Debug("Streaming started", "buf_type", s.typ.String(), "buffers", s.pool.Len())
	return nil
}

// wait polls the device for readiness without dequeuing.
func (s *stream) wait(events int16, timeout time.Duration) (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.releaseBusy()
	if timeout < 0 {
		timeout = 0
	}
	return s.drv.poll(events, timeout)
}

// Len returns the number of buffers in the pool.
func (s *stream) Len() int {
	return s.pool.Len()
}

// BufType returns the stream type the buffers are scoped to.
func (s *stream) BufType() BufType {
	return s.typ
}

// Fd returns the device file descriptor for use with external readiness
// mechanisms. It must not be closed by the caller.
func (s *stream) Fd() int {
	return s.fd
}

// Streaming reports whether STREAMON has been issued.
func (s *stream) Streaming() bool {
	return s.streaming
}

// BufferState returns the ownership state of buffer index.
func (s *stream) BufferState(index int) BufferState {
	return s.pool.State(index)
}

// teardown stops streaming, unmaps the pool and closes the device. Errors
// are logged and swallowed: teardown is best effort and runs at most once.
func (s *stream) teardown() {
	if s.closed {
		return
	}
	s.closed = true

	needOff := s.streaming || s.pool.Queued() > 0
	stopped := true
	if needOff {
		// STREAMOFF also drops every buffer from the driver's queues.
		if err := s.drv.streamOff(s.typ); err != nil {
			stopped = false
			s.logger.Error("Failed to stop streaming, leaking buffer mappings",
				"buf_type", s.typ.String(), "error", err)
		}
	}
	s.streaming = false

	if stopped {
		s.pool.forgetQueued()
		if err := s.pool.release(); err != nil {
			s.logger.Error("Failed to release buffer pool", "buf_type", s.typ.String(), "error", err)
		}
	}

	if s.closeFd != nil {
		if err := s.closeFd(); err != nil {
			s.logger.Warn("Failed to close device", "error", err)
		}
	}
	s.logger.Debug("Stream closed", "buf_type", s.typ.String())
}

func (s *stream) close() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrStreamBusy
	}
	defer s.releaseBusy()
	s.teardown()
	return nil
}
