//go:build linux

package capture

import (
	"fmt"
	"time"

	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// DeviceSource adapts a v4l2 read stream to Source.
type DeviceSource struct {
	stream *v4l2.ReadStream
	format v4l2.PixFormat
	meta   v4l2.MetaFormat
}

// OpenSource opens path for video capture with the requested format and
// starts a read stream of count buffers. The driver adjusts want to the
// nearest format it supports; Format reports the result.
func OpenSource(path string, want v4l2.PixFormat, count uint32) (*DeviceSource, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	handle, err := dev.VideoCapture(want)
	if err != nil {
		return nil, err
	}
	return newDeviceSource(handle, count)
}

// OpenMetaSource opens the metadata capture queue of path.
func OpenMetaSource(path string, count uint32) (*DeviceSource, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	handle, err := dev.MetaCapture()
	if err != nil {
		return nil, err
	}
	return newDeviceSource(handle, count)
}

func newDeviceSource(handle *v4l2.FormatHandle, count uint32) (*DeviceSource, error) {
	format, meta := handle.PixFormat(), handle.MetaFormat()
	stream, err := handle.ReadStream(count, v4l2.WithLogger(logging.GetLogger("v4l2")))
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}
	return &DeviceSource{stream: stream, format: format, meta: meta}, nil
}

// Format returns the negotiated pixel format.
func (s *DeviceSource) Format() v4l2.PixFormat {
	return s.format
}

// MetaFormat returns the metadata format for metadata sources.
func (s *DeviceSource) MetaFormat() v4l2.MetaFormat {
	return s.meta
}

// Next dequeues one buffer.
func (s *DeviceSource) Next(fn func(Buffer) error) error {
	return s.stream.Dequeue(func(v *v4l2.ReadBufferView) error {
		return fn(v)
	})
}

// Wait waits for a filled buffer.
func (s *DeviceSource) Wait(timeout time.Duration) (bool, error) {
	return s.stream.Wait(timeout)
}

// Len returns the number of buffers granted.
func (s *DeviceSource) Len() int {
	return s.stream.Len()
}

// Close stops the stream and closes the device.
func (s *DeviceSource) Close() error {
	return s.stream.Close()
}

// DeviceSink adapts a v4l2 write stream to Sink.
type DeviceSink struct {
	stream *v4l2.WriteStream
	format v4l2.PixFormat
}

// OpenSink opens path for video output and starts a write stream of count
// buffers.
func OpenSink(path string, want v4l2.PixFormat, count uint32) (*DeviceSink, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	handle, err := dev.VideoOutput(want)
	if err != nil {
		return nil, err
	}
	format := handle.PixFormat()
	stream, err := handle.WriteStream(count, v4l2.WithLogger(logging.GetLogger("v4l2")))
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to start output: %w", err)
	}
	return &DeviceSink{stream: stream, format: format}, nil
}

// Format returns the negotiated pixel format.
func (s *DeviceSink) Format() v4l2.PixFormat {
	return s.format
}

// Next fills and enqueues one buffer.
func (s *DeviceSink) Next(fn func(OutBuffer) error) error {
	return s.stream.Enqueue(func(v *v4l2.WriteBufferView) error {
		return fn(v)
	})
}

// Wait waits until a buffer can be reclaimed from the driver.
func (s *DeviceSink) Wait(timeout time.Duration) (bool, error) {
	return s.stream.Wait(timeout)
}

// Len returns the number of buffers granted.
func (s *DeviceSink) Len() int {
	return s.stream.Len()
}

// Close stops the stream and closes the device.
func (s *DeviceSink) Close() error {
	return s.stream.Close()
}
