//go:build linux

package v4l2

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// queueDriver is the kernel surface the streaming core depends on. The core
// never touches raw kernel structs; fdDriver translates to and from them.
type queueDriver interface {
	requestBuffers(typ BufType, count uint32) (uint32, error)
	queryBuffer(typ BufType, index uint32) (BufferInfo, error)
	queueBuffer(typ BufType, index, bytesUsed uint32) error
	dequeueBuffer(typ BufType) (BufferInfo, error)
	streamOn(typ BufType) error
	streamOff(typ BufType) error
	mmap(offset, length uint32) ([]byte, error)
	munmap(data []byte) error
	// poll waits for events on the device; a negative timeout waits forever.
	poll(events int16, timeout time.Duration) (bool, error)
}

// fdDriver implements queueDriver with ioctls on an open device node.
type fdDriver struct {
	fd int
}

func (d *fdDriver) requestBuffers(typ BufType, count uint32) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    uint32(typ),
		memory: uint32(MemoryMMAP),
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

func (d *fdDriver) queryBuffer(typ BufType, index uint32) (BufferInfo, error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    uint32(typ),
		memory: uint32(MemoryMMAP),
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, err
	}
	return bufferInfo(&buf), nil
}

func (d *fdDriver) queueBuffer(typ BufType, index, bytesUsed uint32) error {
	buf := v4l2Buffer{
		index:     index,
		typ:       uint32(typ),
		memory:    uint32(MemoryMMAP),
		bytesused: bytesUsed,
	}
	return ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf))
}

func (d *fdDriver) dequeueBuffer(typ BufType) (BufferInfo, error) {
	for {
		buf := v4l2Buffer{
			typ:    uint32(typ),
			memory: uint32(MemoryMMAP),
		}
		err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf))
		if err == nil {
			return bufferInfo(&buf), nil
		}
		if !errors.Is(err, unix.EAGAIN) {
			return BufferInfo{}, err
		}

		// Non-blocking descriptor: wait until the driver has a buffer for us.
		events := int16(unix.POLLIN)
		if typ.IsOutput() {
			events = unix.POLLOUT
		}
		if _, pollErr := d.poll(events, -1); pollErr != nil {
			return BufferInfo{}, pollErr
		}
	}
}

func (d *fdDriver) streamOn(typ BufType) error {
	t := uint32(typ)
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&t))
}

func (d *fdDriver) streamOff(typ BufType) error {
	t := uint32(typ)
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&t))
}

func (d *fdDriver) mmap(offset, length uint32) ([]byte, error) {
	// Mapped read+write for every direction so the pool does not depend on it.
	return unix.Mmap(d.fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *fdDriver) munmap(data []byte) error {
	return unix.Munmap(data)
}

func (d *fdDriver) poll(events int16, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n > 0 && fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, unix.EIO
		}
		return n > 0, nil
	}
}

// bufferInfo converts a raw kernel buffer into its typed form.
func bufferInfo(buf *v4l2Buffer) BufferInfo {
	sec, nsec := buf.timestamp.Unix()
	return BufferInfo{
		Index:     buf.index,
		Type:      BufType(buf.typ),
		BytesUsed: buf.bytesused,
		Flags:     BufFlag(buf.flags),
		Field:     buf.field,
		Timestamp: time.Unix(sec, nsec),
		Sequence:  buf.sequence,
		Length:    buf.length,
		Offset:    buf.offset(),
	}
}
