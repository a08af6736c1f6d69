//go:build linux

package v4l2

import (
	"time"

	"golang.org/x/sys/unix"
)

const noBuffer = -1

// WriteStream feeds an output device through a pool of mapped buffers.
//
// Buffers are handed out in index order until each has been queued once;
// after that every Enqueue first waits for the driver to return a consumed
// buffer. Streaming starts after the first successful Enqueue unless the
// stream was opened with WithManualStart. A WriteStream has a single owner.
type WriteStream struct {
	stream
	// next is the first buffer that has never been queued, or noBuffer once
	// every buffer went to the driver at least once.
	next int
	// parked is an unqueued buffer left over from a failed Enqueue. It is
	// handed out before anything else.
	parked    int
	autoStart bool
}

// openWriteStream allocates the pool with every buffer unqueued.
func openWriteStream(drv queueDriver, fd int, closeFd func() error, typ BufType, count uint32, opts ...StreamOption) (*WriteStream, error) {
	o := buildOptions(opts)

	pool, err := allocatePool(drv, typ, count, o.logger)
	if err != nil {
		if closeFd != nil {
			_ = closeFd()
		}
		return nil, err
	}

	return &WriteStream{
		stream: stream{
			drv:     drv,
			fd:      fd,
			closeFd: closeFd,
			pool:    pool,
			typ:     typ,
			logger:  o.logger,
		},
		next:      0,
		parked:    noBuffer,
		autoStart: !o.manualStart,
	}, nil
}

// Enqueue obtains an unqueued buffer, passes it to fn to be filled and queues
// it for output. When every buffer is with the driver, Enqueue blocks until
// one has been consumed.
//
// If fn fails or panics, or the queue operation fails, the buffer stays with
// the stream and is the next one handed out, so no capacity is lost on retry.
func (s *WriteStream) Enqueue(fn func(*WriteBufferView) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.releaseBusy()

	index, fromCursor, err := s.take()
	if err != nil {
		return err
	}

	data, err := s.pool.data(uint32(index))
	if err != nil {
		return err
	}

	view := newWriteView(data, uint32(index))
	returned := false
	defer func() {
		if !returned {
			s.park(index, fromCursor)
		}
	}()
	cbErr := s.run(view, fn)
	returned = true
	if cbErr != nil {
		s.park(index, fromCursor)
		return cbErr
	}

	if err := s.pool.enqueue(uint32(index), uint32(view.bytesUsed)); err != nil {
		s.park(index, fromCursor)
		return err
	}
	s.advance(index, fromCursor)

	if s.autoStart {
		return s.streamOn()
	}
	return nil
}

// take picks the buffer for the next Enqueue: a parked buffer, then the
// never-queued cursor, then one dequeued from the driver.
func (s *WriteStream) take() (index int, fromCursor bool, err error) {
	if s.parked != noBuffer {
		return s.parked, false, nil
	}
	if s.next != noBuffer {
		return s.next, true, nil
	}

	info, err := s.pool.dequeue()
	if err != nil {
		return 0, false, err
	}
	if info.Flags.Has(BufFlagError) {
		s.logger.Debug("Driver flagged consumed output buffer", "index", info.Index, "flags", info.Flags.String())
	}
	return int(info.Index), false, nil
}

// park remembers an unqueued buffer after a failed Enqueue. A buffer taken
// from the cursor is still the cursor's, so nothing needs recording.
func (s *WriteStream) park(index int, fromCursor bool) {
	if fromCursor {
		return
	}
	s.parked = index
}

func (s *WriteStream) advance(index int, fromCursor bool) {
	if !fromCursor {
		if s.parked == index {
			s.parked = noBuffer
		}
		return
	}
	s.next++
	if s.next >= s.pool.Len() {
		s.next = noBuffer
	}
}

func (s *WriteStream) run(view *WriteBufferView, fn func(*WriteBufferView) error) error {
	defer func() { view.scope.released = true }()
	return fn(view)
}

// EnqueueValue is Enqueue for callbacks that produce a value.
func EnqueueValue[T any](s *WriteStream, fn func(*WriteBufferView) (T, error)) (T, error) {
	var result T
	err := s.Enqueue(func(v *WriteBufferView) error {
		var cbErr error
		result, cbErr = fn(v)
		return cbErr
	})
	return result, err
}

// Start issues STREAMON. It is idempotent and only needed ahead of the first
// Enqueue or for streams opened with WithManualStart.
func (s *WriteStream) Start() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.releaseBusy()
	return s.streamOn()
}

// Wait blocks until the driver can accept output or timeout elapses.
func (s *WriteStream) Wait(timeout time.Duration) (bool, error) {
	return s.wait(unix.POLLOUT, timeout)
}

// Close stops streaming, unmaps the buffers and closes the device.
// Teardown failures are logged, not returned. Calling Close again is a no-op.
func (s *WriteStream) Close() error {
	return s.close()
}
