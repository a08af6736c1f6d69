//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocQuerycap  = 0x80685600
	vidiocEnumFmt   = 0xc0405602
	vidiocGFmt      = 0xc0d05604
	vidiocSFmt      = 0xc0d05605
	vidiocReqbufs   = 0xc0145608
	vidiocQuerybuf  = 0xc0585609
	vidiocQbuf      = 0xc058560f
	vidiocDqbuf     = 0xc0585611
	vidiocStreamon  = 0x40045612
	vidiocStreamoff = 0x40045613
)

// v4l2Format has size 208 bytes. The union is 8-byte aligned because it
// contains pointers in some variants.
type v4l2Format struct {
	typ uint32    // offset 0
	_   [4]byte   // padding
	fmt [200]byte // offset 8 - union, pix variant at offset 0
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	_         uint32       // padding
	timestamp unix.Timeval // offset 24
	timecode  v4l2Timecode // offset 40
	sequence  uint32       // offset 56
	memory    uint32       // offset 60
	m         uint64       // offset 64 - union: offset, userptr, planes, fd
	length    uint32       // offset 72
	reserved2 uint32       // offset 76
	requestFD int32        // offset 80
	_         uint32       // padding to 88
}

// offset returns the mmap offset stored in the memory union.
// Both supported 64-bit targets are little-endian, so the u32 member
// occupies the low half.
func (b *v4l2Buffer) offset() uint32 {
	return uint32(b.m)
}
