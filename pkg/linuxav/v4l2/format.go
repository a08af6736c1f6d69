//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PixFormat is a single-planar image format (struct v4l2_pix_format).
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

func (f PixFormat) String() string {
	return fmt.Sprintf("%dx%d %s (%d bytes/line, %d bytes/frame)",
		f.Width, f.Height, FormatFourCC(f.PixelFormat), f.BytesPerLine, f.SizeImage)
}

// MetaFormat is a metadata buffer format (struct v4l2_meta_format).
type MetaFormat struct {
	DataFormat uint32
	BufferSize uint32
}

func enumFormats(fd int, typ BufType) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   uint32(typ),
		}

		if ioctlErr := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, ioctlErr)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
			Compressed:  fmtdesc.flags&fmtFlagCompressed != 0,
		})
	}

	return formats, nil
}

// GetFormats returns all formats a device supports for the given buffer type.
func GetFormats(devicePath string, typ BufType) ([]FormatInfo, error) {
	fd, err := openProbe(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	return enumFormats(fd, typ)
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// ParseFourCC converts a four character code such as "YUYV" to its numeric form.
func ParseFourCC(code string) (uint32, error) {
	if len(code) != 4 {
		return 0, fmt.Errorf("fourcc %q must be exactly 4 characters", code)
	}
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24, nil
}

func setPixFormat(fd int, typ BufType, want PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	pix := (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
	pix.width = want.Width
	pix.height = want.Height
	pix.pixelformat = want.PixelFormat
	pix.field = want.Field
	pix.bytesperline = want.BytesPerLine
	pix.sizeimage = want.SizeImage

	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, err
	}

	return PixFormat{
		Width:        pix.width,
		Height:       pix.height,
		PixelFormat:  pix.pixelformat,
		Field:        pix.field,
		BytesPerLine: pix.bytesperline,
		SizeImage:    pix.sizeimage,
	}, nil
}

func getMetaFormat(fd int, typ BufType) (MetaFormat, error) {
	f := v4l2Format{typ: uint32(typ)}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return MetaFormat{}, err
	}
	meta := (*v4l2MetaFormat)(unsafe.Pointer(&f.fmt[0]))
	return MetaFormat{DataFormat: meta.dataformat, BufferSize: meta.buffersize}, nil
}
