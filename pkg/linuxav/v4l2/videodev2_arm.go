//go:build linux && arm && !arm64

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions for 32-bit ARM.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{} // 32-bit timeval
)

// IOCTL constants for 32-bit ARM.
// Format and buffer ioctls differ from 64-bit because v4l2_format has no
// union padding and v4l2_buffer carries a 32-bit timeval and pointer.
const (
	vidiocQuerycap  = 0x80685600
	vidiocEnumFmt   = 0xc0405602
	vidiocGFmt      = 0xc0cc5604
	vidiocSFmt      = 0xc0cc5605
	vidiocReqbufs   = 0xc0145608
	vidiocQuerybuf  = 0xc0445609
	vidiocQbuf      = 0xc044560f
	vidiocDqbuf     = 0xc0445611
	vidiocStreamon  = 0x40045612
	vidiocStreamoff = 0x40045613
)

// v4l2Format has size 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32    // offset 0
	fmt [200]byte // offset 4
}

// v4l2Buffer has size 68 bytes on 32-bit.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	timestamp unix.Timeval // offset 20
	timecode  v4l2Timecode // offset 28
	sequence  uint32       // offset 44
	memory    uint32       // offset 48
	m         uint32       // offset 52 - union: offset, userptr, planes, fd
	length    uint32       // offset 56
	reserved2 uint32       // offset 60
	requestFD int32        // offset 64
}

func (b *v4l2Buffer) offset() uint32 {
	return b.m
}
