//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
)

// BufferState is the ownership state of one pool buffer.
type BufferState int

// Buffer states.
const (
	BufferUnqueued BufferState = iota // owned by userspace
	BufferQueued                      // owned by the driver, must not be touched
)

func (s BufferState) String() string {
	switch s {
	case BufferUnqueued:
		return "unqueued"
	case BufferQueued:
		return "queued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// buffer is one kernel-allocated region mapped into the process.
// Its position in bufferPool.buffers is its driver-visible index.
type buffer struct {
	data  []byte
	state BufferState
}

// bufferPool owns the mapped buffers of one stream and is the only place
// buffer state changes. It is not safe for concurrent use.
type bufferPool struct {
	drv      queueDriver
	typ      BufType
	buffers  []buffer
	released bool
	logger   *slog.Logger
}

// allocatePool requests count MMAP buffers and maps each one.
// A driver granting fewer buffers than requested shrinks the pool.
func allocatePool(drv queueDriver, typ BufType, count uint32, logger *slog.Logger) (*bufferPool, error) {
	if count == 0 {
		return nil, newError(ErrCodeAllocation, "buffer count must be positive", nil)
	}

	granted, err := drv.requestBuffers(typ, count)
	if err != nil {
		return nil, newError(ErrCodeAllocation, fmt.Sprintf("failed to request %d %s buffers", count, typ), err)
	}
	if granted == 0 {
		return nil, newError(ErrCodeAllocation, fmt.Sprintf("requested %d %s buffers", count, typ), ErrNoBuffers)
	}
	if granted < count {
		logger.Warn("Driver allocated fewer buffers than requested",
			"buf_type", typ.String(), "requested", count, "granted", granted)
	}

	p := &bufferPool{
		drv:     drv,
		typ:     typ,
		buffers: make([]buffer, 0, granted),
		logger:  logger,
	}

	for i := uint32(0); i < granted; i++ {
		info, err := drv.queryBuffer(typ, i)
		if err != nil {
			p.rollback()
			return nil, newError(ErrCodeMap, fmt.Sprintf("failed to query buffer %d", i), err)
		}

		// Buffer sizes are usually the image size rounded up to whole pages.
		data, err := drv.mmap(info.Offset, info.Length)
		if err != nil {
			p.rollback()
			return nil, newError(ErrCodeMap, fmt.Sprintf("failed to map buffer %d (%d bytes)", i, info.Length), err)
		}

		p.buffers = append(p.buffers, buffer{data: data, state: BufferUnqueued})
	}

	logger.Debug("Allocated buffer pool", "buf_type", typ.String(), "buffers", len(p.buffers))
	return p, nil
}

// rollback undoes a partial allocation. No buffer has been queued yet.
func (p *bufferPool) rollback() {
	for i := range p.buffers {
		if err := p.drv.munmap(p.buffers[i].data); err != nil {
			p.logger.Warn("Failed to unmap buffer during rollback", "index", i, "error", err)
		}
	}
	p.buffers = nil
	p.released = true
	if _, err := p.drv.requestBuffers(p.typ, 0); err != nil {
		p.logger.Debug("Failed to free driver buffers during rollback", "error", err)
	}
}

// Len returns the number of buffers in the pool.
func (p *bufferPool) Len() int {
	return len(p.buffers)
}

// State returns the state of buffer index.
func (p *bufferPool) State(index int) BufferState {
	return p.buffers[index].state
}

// Queued returns how many buffers are currently owned by the driver.
func (p *bufferPool) Queued() int {
	n := 0
	for i := range p.buffers {
		if p.buffers[i].state == BufferQueued {
			n++
		}
	}
	return n
}

// data returns the mapped region of an unqueued buffer.
func (p *bufferPool) data(index uint32) ([]byte, error) {
	if err := p.checkIndex(index); err != nil {
		return nil, err
	}
	if p.buffers[index].state != BufferUnqueued {
		return nil, newError(ErrCodeState, fmt.Sprintf("buffer %d is owned by the driver", index), nil)
	}
	return p.buffers[index].data, nil
}

// enqueue hands buffer index to the driver.
func (p *bufferPool) enqueue(index, bytesUsed uint32) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	b := &p.buffers[index]
	if b.state != BufferUnqueued {
		return newError(ErrCodeState, fmt.Sprintf("buffer %d is already queued", index), nil)
	}
	if err := p.drv.queueBuffer(p.typ, index, bytesUsed); err != nil {
		return newError(ErrCodeQueue, fmt.Sprintf("failed to enqueue buffer %d", index), err)
	}
	b.state = BufferQueued
	return nil
}

// dequeue blocks until the driver returns a buffer and takes ownership of it.
func (p *bufferPool) dequeue() (BufferInfo, error) {
	info, err := p.drv.dequeueBuffer(p.typ)
	if err != nil {
		return BufferInfo{}, newError(ErrCodeQueue, "failed to dequeue buffer", err)
	}
	if err := p.checkIndex(info.Index); err != nil {
		return BufferInfo{}, err
	}
	b := &p.buffers[info.Index]
	if b.state != BufferQueued {
		return BufferInfo{}, newError(ErrCodeState, fmt.Sprintf("driver returned buffer %d which was not queued", info.Index), nil)
	}
	b.state = BufferUnqueued
	return info, nil
}

// forgetQueued marks every buffer unqueued. Only valid after STREAMOFF,
// which makes the driver drop all buffers from its queues.
func (p *bufferPool) forgetQueued() {
	for i := range p.buffers {
		p.buffers[i].state = BufferUnqueued
	}
}

// release unmaps every buffer and frees the driver allocation.
// It refuses to run while the driver still owns a buffer.
func (p *bufferPool) release() error {
	if p.released {
		return nil
	}
	if n := p.Queued(); n > 0 {
		return newError(ErrCodeState, fmt.Sprintf("cannot release pool with %d queued buffers", n), nil)
	}
	p.released = true

	var errs []error
	for i := range p.buffers {
		if err := p.drv.munmap(p.buffers[i].data); err != nil {
			errs = append(errs, fmt.Errorf("unmap buffer %d: %w", i, err))
		}
		p.buffers[i].data = nil
	}
	if _, err := p.drv.requestBuffers(p.typ, 0); err != nil {
		errs = append(errs, fmt.Errorf("free driver buffers: %w", err))
	}
	return errors.Join(errs...)
}

func (p *bufferPool) checkIndex(index uint32) error {
	if p.released {
		return newError(ErrCodeState, "buffer pool released", nil)
	}
	if int(index) >= len(p.buffers) {
		return newError(ErrCodeState, fmt.Sprintf("buffer index %d out of range (pool size %d)", index, len(p.buffers)), nil)
	}
	return nil
}
