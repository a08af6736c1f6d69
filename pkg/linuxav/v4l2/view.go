//go:build linux

package v4l2

import (
	"fmt"
	"time"
)

const errViewReleased = "v4l2: buffer view used after release"

// viewScope marks a view as usable only while its callback runs.
type viewScope struct {
	released bool
}

func (s *viewScope) check() {
	if s.released {
		panic(errViewReleased)
	}
}

// ReadBufferView is a filled capture buffer lent to a Dequeue callback.
//
// The view and every slice obtained from it are only valid until the
// callback returns; the buffer is handed back to the driver right after.
// Copy the bytes to keep them.
type ReadBufferView struct {
	scope viewScope
	data  []byte
	info  BufferInfo
	used  int
}

func newReadView(data []byte, info BufferInfo) *ReadBufferView {
	used := int(info.BytesUsed)
	if used > len(data) {
		used = len(data)
	}
	return &ReadBufferView{data: data, info: info, used: used}
}

// Bytes returns the payload the driver wrote: the first BytesUsed bytes.
func (v *ReadBufferView) Bytes() []byte {
	v.scope.check()
	return v.data[:v.used:v.used]
}

// Raw returns the whole mapped region regardless of how much was written.
// Compressed formats such as MJPEG use far less than the allocated size.
func (v *ReadBufferView) Raw() []byte {
	v.scope.check()
	return v.data
}

// BytesUsed returns the payload length, never more than Cap.
func (v *ReadBufferView) BytesUsed() int {
	v.scope.check()
	return v.used
}

// Len is an alias of BytesUsed.
func (v *ReadBufferView) Len() int {
	return v.BytesUsed()
}

// Cap returns the size of the mapped region.
func (v *ReadBufferView) Cap() int {
	v.scope.check()
	return len(v.data)
}

// IsError reports whether the driver flagged this buffer as corrupted or
// incomplete. The data is still accessible but should not be trusted.
func (v *ReadBufferView) IsError() bool {
	v.scope.check()
	return v.info.Flags.Has(BufFlagError)
}

// IsKeyframe reports whether the buffer holds a keyframe (compressed formats).
func (v *ReadBufferView) IsKeyframe() bool {
	v.scope.check()
	return v.info.Flags.Has(BufFlagKeyframe)
}

// IsLast reports whether the driver marked this as the last buffer of the stream.
func (v *ReadBufferView) IsLast() bool {
	v.scope.check()
	return v.info.Flags.Has(BufFlagLast)
}

// Flags returns the raw buffer flags.
func (v *ReadBufferView) Flags() BufFlag {
	v.scope.check()
	return v.info.Flags
}

// Index returns the driver index of the buffer.
func (v *ReadBufferView) Index() uint32 {
	v.scope.check()
	return v.info.Index
}

// Sequence returns the driver frame counter.
func (v *ReadBufferView) Sequence() uint32 {
	v.scope.check()
	return v.info.Sequence
}

// Timestamp returns the capture time reported by the driver.
func (v *ReadBufferView) Timestamp() time.Time {
	v.scope.check()
	return v.info.Timestamp
}

// WriteBufferView is an empty output buffer lent to an Enqueue callback.
//
// The callback fills Bytes with a complete frame. Like ReadBufferView it must
// not be retained once the callback returns.
type WriteBufferView struct {
	scope     viewScope
	data      []byte
	index     uint32
	bytesUsed int
}

func newWriteView(data []byte, index uint32) *WriteBufferView {
	return &WriteBufferView{data: data, index: index, bytesUsed: len(data)}
}

// Bytes returns the whole mapped region for writing.
func (v *WriteBufferView) Bytes() []byte {
	v.scope.check()
	return v.data
}

// Cap returns the size of the mapped region.
func (v *WriteBufferView) Cap() int {
	v.scope.check()
	return len(v.data)
}

// SetBytesUsed declares how many bytes of the buffer hold the frame.
// Defaults to the full capacity.
func (v *WriteBufferView) SetBytesUsed(n int) error {
	v.scope.check()
	if n < 0 || n > len(v.data) {
		return newError(ErrCodeState, fmt.Sprintf("bytes used %d outside buffer capacity %d", n, len(v.data)), nil)
	}
	v.bytesUsed = n
	return nil
}

// BytesUsed returns the declared frame length.
func (v *WriteBufferView) BytesUsed() int {
	v.scope.check()
	return v.bytesUsed
}

// Index returns the driver index of the buffer.
func (v *WriteBufferView) Index() uint32 {
	v.scope.check()
	return v.index
}
