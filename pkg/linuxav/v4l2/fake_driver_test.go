//go:build linux

package v4l2

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// fakeDriver models the kernel side of one buffer queue. Capture buffers are
// filled from frames when dequeued; output buffers are recorded in written
// when queued.
type fakeDriver struct {
	maxBuffers uint32
	length     uint32

	allocated uint32
	memory    [][]byte // backs every mapping, in index order
	mapped    int
	unmapped  int
	reqbufs   []uint32
	queued    []uint32
	streaming bool
	sequence  uint32

	// ready is how many buffers at the head of queued the device has
	// already completed.
	ready int

	frames      [][]byte
	frameFlags  BufFlag
	overreport  uint32
	written     [][]byte
	dequeues    int
	streamOns   int
	streamOffs  int
	pollReady   bool
	pollTimeout time.Duration

	failReqbufs   error
	failQueryAt   int
	failMmapAt    int
	failQueue     error
	failQueueAt   int
	failDequeue   error
	failStreamOn  error
	failStreamOff error
	failPoll      error
}

func newFakeDriver(maxBuffers, length uint32) *fakeDriver {
	return &fakeDriver{
		maxBuffers:  maxBuffers,
		length:      length,
		failQueryAt: -1,
		failMmapAt:  -1,
		failQueueAt: -1,
	}
}

func (d *fakeDriver) requestBuffers(typ BufType, count uint32) (uint32, error) {
	d.reqbufs = append(d.reqbufs, count)
	if d.failReqbufs != nil {
		return 0, d.failReqbufs
	}
	if count == 0 {
		if d.mapped-d.unmapped > 0 {
			return 0, unix.EBUSY
		}
		d.allocated = 0
		return 0, nil
	}
	if d.streaming {
		return 0, unix.EBUSY
	}
	d.allocated = min(count, d.maxBuffers)
	d.memory = nil
	return d.allocated, nil
}

func (d *fakeDriver) queryBuffer(typ BufType, index uint32) (BufferInfo, error) {
	if int(index) == d.failQueryAt {
		return BufferInfo{}, unix.EINVAL
	}
	if index >= d.allocated {
		return BufferInfo{}, unix.EINVAL
	}
	info := BufferInfo{
		Index:  index,
		Type:   typ,
		Length: d.length,
		Offset: index * d.length,
		Flags:  BufFlagMapped,
	}
	for pos, q := range d.queued {
		if q == index {
			info.Flags |= BufFlagQueued
			if pos < d.ready {
				info.Flags |= BufFlagDone
			}
		}
	}
	return info, nil
}

func (d *fakeDriver) queueBuffer(typ BufType, index, bytesUsed uint32) error {
	if d.failQueue != nil && (d.failQueueAt < 0 || int(index) == d.failQueueAt) {
		return d.failQueue
	}
	if index >= d.allocated {
		return unix.EINVAL
	}
	for _, q := range d.queued {
		if q == index {
			return unix.EINVAL
		}
	}
	if typ.IsOutput() {
		d.written = append(d.written, append([]byte(nil), d.buffer(index)[:bytesUsed]...))
	}
	d.queued = append(d.queued, index)
	return nil
}

func (d *fakeDriver) dequeueBuffer(typ BufType) (BufferInfo, error) {
	if d.failDequeue != nil {
		return BufferInfo{}, d.failDequeue
	}
	if !d.streaming {
		return BufferInfo{}, unix.EINVAL
	}
	if len(d.queued) == 0 {
		return BufferInfo{}, unix.EAGAIN
	}
	index := d.queued[0]
	d.queued = d.queued[1:]
	if d.ready > 0 {
		d.ready--
	}
	d.dequeues++

	info := BufferInfo{
		Index:     index,
		Type:      typ,
		Flags:     BufFlagMapped | BufFlagDone | d.frameFlags,
		Sequence:  d.sequence,
		Timestamp: time.Unix(int64(d.sequence), 0),
		Length:    d.length,
		Offset:    index * d.length,
	}
	d.sequence++

	if !typ.IsOutput() {
		payload := []byte(fmt.Sprintf("frame-%d", info.Sequence))
		if len(d.frames) > 0 {
			payload = d.frames[0]
			d.frames = d.frames[1:]
		}
		n := copy(d.buffer(index), payload)
		info.BytesUsed = uint32(n) + d.overreport
	}
	return info, nil
}

func (d *fakeDriver) streamOn(typ BufType) error {
	d.streamOns++
	if d.failStreamOn != nil {
		return d.failStreamOn
	}
	d.streaming = true
	return nil
}

func (d *fakeDriver) streamOff(typ BufType) error {
	d.streamOffs++
	if d.failStreamOff != nil {
		return d.failStreamOff
	}
	d.streaming = false
	d.queued = nil
	d.ready = 0
	return nil
}

func (d *fakeDriver) mmap(offset, length uint32) ([]byte, error) {
	if d.mapped == d.failMmapAt {
		return nil, unix.ENOMEM
	}
	d.mapped++
	mem := make([]byte, length)
	d.memory = append(d.memory, mem)
	return mem, nil
}

func (d *fakeDriver) munmap(data []byte) error {
	d.unmapped++
	return nil
}

func (d *fakeDriver) poll(events int16, timeout time.Duration) (bool, error) {
	d.pollTimeout = timeout
	if d.failPoll != nil {
		return false, d.failPoll
	}
	return d.pollReady, nil
}

func (d *fakeDriver) buffer(index uint32) []byte {
	return d.memory[index]
}

func (d *fakeDriver) liveMappings() int {
	return d.mapped - d.unmapped
}

// fakeCloser counts device closes.
type fakeCloser struct {
	calls int
}

func (c *fakeCloser) close() error {
	c.calls++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
