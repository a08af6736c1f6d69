//go:build linux

package v4l2

import (
	"fmt"
)

// FormatHandle is a device whose format has been negotiated for one buffer
// type. It owns the file descriptor until a stream is opened from it.
type FormatHandle struct {
	fd     int
	typ    BufType
	pix    PixFormat
	meta   MetaFormat
	path   string
	closed bool
}

// VideoCapture negotiates a capture format. The driver may adjust the request;
// the returned handle reports what was actually set. The device is consumed.
func (d *Device) VideoCapture(want PixFormat) (*FormatHandle, error) {
	return d.negotiate(BufTypeVideoCapture, want)
}

// VideoOutput negotiates an output format. The device is consumed.
func (d *Device) VideoOutput(want PixFormat) (*FormatHandle, error) {
	return d.negotiate(BufTypeVideoOutput, want)
}

// MetaCapture selects the device's metadata capture queue, such as the UVC
// per-frame metadata node. The device is consumed.
func (d *Device) MetaCapture() (*FormatHandle, error) {
	if !d.caps.Device.Has(CapMetaCapture) {
		return nil, newError(ErrCodeState, fmt.Sprintf("%s does not support metadata capture", d.path), nil)
	}
	if d.fd < 0 {
		return nil, ErrHandleConsumed
	}
	meta, err := getMetaFormat(d.fd, BufTypeMetaCapture)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata format: %w", err)
	}
	fd, err := d.take()
	if err != nil {
		return nil, err
	}
	return &FormatHandle{fd: fd, typ: BufTypeMetaCapture, meta: meta, path: d.path}, nil
}

func (d *Device) negotiate(typ BufType, want PixFormat) (*FormatHandle, error) {
	need := CapVideoCapture
	if typ.IsOutput() {
		need = CapVideoOutput
	}
	if d.caps.Device&(need|CapVideoM2M) == 0 {
		return nil, newError(ErrCodeState, fmt.Sprintf("%s does not support %s", d.path, typ), nil)
	}
	if d.fd < 0 {
		return nil, ErrHandleConsumed
	}

	got, err := setPixFormat(d.fd, typ, want)
	if err != nil {
		return nil, fmt.Errorf("failed to set %s format %s: %w", typ, want, err)
	}
	fd, err := d.take()
	if err != nil {
		return nil, err
	}
	return &FormatHandle{fd: fd, typ: typ, pix: got, path: d.path}, nil
}

// BufType returns the buffer type the format was negotiated for.
func (h *FormatHandle) BufType() BufType {
	return h.typ
}

// PixFormat returns the negotiated image format. Zero for metadata handles.
func (h *FormatHandle) PixFormat() PixFormat {
	return h.pix
}

// MetaFormat returns the metadata format. Zero for video handles.
func (h *FormatHandle) MetaFormat() MetaFormat {
	return h.meta
}

// FrameSize returns the buffer size the driver expects for one frame.
func (h *FormatHandle) FrameSize() uint32 {
	if h.typ == BufTypeMetaCapture {
		return h.meta.BufferSize
	}
	return h.pix.SizeImage
}

// ReadStream allocates count buffers and starts capturing. The handle is
// consumed: the stream closes the device when it is closed.
func (h *FormatHandle) ReadStream(count uint32, opts ...StreamOption) (*ReadStream, error) {
	if h.typ.IsOutput() {
		return nil, newError(ErrCodeState, fmt.Sprintf("cannot read from %s handle", h.typ), nil)
	}
	fd, err := h.take()
	if err != nil {
		return nil, err
	}
	return openReadStream(&fdDriver{fd: fd}, fd, func() error { return closeFd(fd) }, h.typ, count, opts...)
}

// WriteStream allocates count buffers for output. The handle is consumed.
func (h *FormatHandle) WriteStream(count uint32, opts ...StreamOption) (*WriteStream, error) {
	if !h.typ.IsOutput() {
		return nil, newError(ErrCodeState, fmt.Sprintf("cannot write to %s handle", h.typ), nil)
	}
	fd, err := h.take()
	if err != nil {
		return nil, err
	}
	return openWriteStream(&fdDriver{fd: fd}, fd, func() error { return closeFd(fd) }, h.typ, count, opts...)
}

// Close closes the device if no stream took ownership of it.
func (h *FormatHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return closeFd(h.fd)
}

func (h *FormatHandle) take() (int, error) {
	if h.closed {
		return -1, ErrHandleConsumed
	}
	h.closed = true
	return h.fd, nil
}
