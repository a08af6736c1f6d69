//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ReadStream captures from a device through a pool of mapped buffers.
//
// Every buffer is queued to the driver except the one currently lent to a
// Dequeue callback. A ReadStream has a single owner and must not be shared
// between goroutines.
type ReadStream struct {
	stream
}

// openReadStream allocates the pool, queues every buffer and starts streaming.
// On failure everything done so far is undone, including closing the device.
func openReadStream(drv queueDriver, fd int, closeFd func() error, typ BufType, count uint32, opts ...StreamOption) (*ReadStream, error) {
	o := buildOptions(opts)

	pool, err := allocatePool(drv, typ, count, o.logger)
	if err != nil {
		if closeFd != nil {
			_ = closeFd()
		}
		return nil, err
	}

	s := &ReadStream{stream{
		drv:     drv,
		fd:      fd,
		closeFd: closeFd,
		pool:    pool,
		typ:     typ,
		logger:  o.logger,
	}}

	for i := 0; i < pool.Len(); i++ {
		if err := pool.enqueue(uint32(i), 0); err != nil {
			s.teardown()
			return nil, err
		}
	}

	if err := s.streamOn(); err != nil {
		s.teardown()
		return nil, err
	}

	return s, nil
}

// Dequeue waits for the driver to fill a buffer, passes it to fn, then
// queues it again.
//
// The buffer is re-queued even when fn fails or panics. If re-queuing fails,
// that error is returned (joined with fn's error when fn failed too), since
// the stream has permanently lost a buffer. Otherwise fn's error is returned.
func (s *ReadStream) Dequeue(fn func(*ReadBufferView) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.releaseBusy()

	info, err := s.pool.dequeue()
	if err != nil {
		return err
	}

	data, err := s.pool.data(info.Index)
	if err != nil {
		return err
	}
	if info.BytesUsed > uint32(len(data)) {
		s.logger.Warn("Driver reported more bytes than buffer capacity",
			"index", info.Index, "bytes_used", info.BytesUsed, "capacity", len(data))
	}

	view := newReadView(data, info)
	returned := false
	defer func() {
		if returned {
			return
		}
		// fn panicked; the buffer still goes back to the driver.
		if qErr := s.pool.enqueue(info.Index, 0); qErr != nil {
			s.logger.Error("Failed to re-queue buffer after callback panic", "index", info.Index, "error", qErr)
		}
	}()
	cbErr := s.run(view, fn)
	returned = true

	if qErr := s.pool.enqueue(info.Index, 0); qErr != nil {
		if cbErr != nil {
			return errors.Join(qErr, cbErr)
		}
		return qErr
	}
	return cbErr
}

// run invokes fn and invalidates the view afterwards, even if fn panics.
func (s *ReadStream) run(view *ReadBufferView, fn func(*ReadBufferView) error) error {
	defer func() { view.scope.released = true }()
	return fn(view)
}

// DequeueValue is Dequeue for callbacks that produce a value.
func DequeueValue[T any](s *ReadStream, fn func(*ReadBufferView) (T, error)) (T, error) {
	var result T
	err := s.Dequeue(func(v *ReadBufferView) error {
		var cbErr error
		result, cbErr = fn(v)
		return cbErr
	})
	return result, err
}

// WillBlock reports whether Dequeue would block right now, by asking the
// driver whether any queued buffer is already done. It does not dequeue.
func (s *ReadStream) WillBlock() (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.releaseBusy()

	for i := 0; i < s.pool.Len(); i++ {
		if s.pool.State(i) != BufferQueued {
			continue
		}
		info, err := s.drv.queryBuffer(s.typ, uint32(i))
		if err != nil {
			return false, newError(ErrCodeQueue, fmt.Sprintf("failed to query buffer %d", i), err)
		}
		if info.Flags.Has(BufFlagDone) {
			return false, nil
		}
	}
	return true, nil
}

// Wait blocks until a filled buffer is available or timeout elapses, and
// reports whether one is available. Use it to bound the wait before Dequeue.
func (s *ReadStream) Wait(timeout time.Duration) (bool, error) {
	return s.wait(unix.POLLIN, timeout)
}

// Close stops streaming, unmaps the buffers and closes the device.
// Teardown failures are logged, not returned. Calling Close again is a no-op.
// Close returns ErrStreamBusy when called from inside a Dequeue callback.
func (s *ReadStream) Close() error {
	return s.close()
}
