//go:build linux

// Package v4l2 provides pure Go zero-copy streaming I/O for Video4Linux2
// (V4L2) devices using kernel-allocated memory-mapped buffers.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover devices that support streaming:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Capture
//
// Open a device, negotiate a format and start a ReadStream. Each Dequeue
// lends one filled buffer to the callback and hands it back to the driver
// when the callback returns:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	h, _ := dev.VideoCapture(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
//	s, _ := h.ReadStream(4)
//	defer s.Close()
//	err := s.Dequeue(func(v *v4l2.ReadBufferView) error {
//	    process(v.Bytes())
//	    return nil
//	})
//
// Views must not escape their callback. Any use after the callback returns
// panics, since the memory already belongs to the driver again.
//
// # Output
//
// A WriteStream hands out empty buffers to be filled and queued for output.
// Streaming starts automatically after the first queued frame:
//
//	s, _ := h.WriteStream(4)
//	err := s.Enqueue(func(v *v4l2.WriteBufferView) error {
//	    copy(v.Bytes(), frame)
//	    return v.SetBytesUsed(len(frame))
//	})
//
// # Ownership
//
// Every buffer is either queued (owned by the driver) or unqueued (owned by
// the stream). Streams are single-owner: calling a stream from inside its own
// callback, or from two goroutines at once, returns ErrStreamBusy.
package v4l2
