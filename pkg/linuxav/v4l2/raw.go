//go:build linux

package v4l2

// Kernel structs whose layout is identical on every supported architecture.
// Architecture-dependent structs live in videodev2_64bit.go and videodev2_arm.go.

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2PixFormat has size 48 bytes and overlays v4l2Format.fmt.
type v4l2PixFormat struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcrEnc     uint32 // offset 36
	quantization uint32 // offset 40
	xferFunc     uint32 // offset 44
}

// v4l2MetaFormat overlays v4l2Format.fmt for metadata buffer types.
type v4l2MetaFormat struct {
	dataformat uint32 // offset 0
	buffersize uint32 // offset 4
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32   // offset 0
	typ          uint32   // offset 4
	memory       uint32   // offset 8
	capabilities uint32   // offset 12
	flags        uint8    // offset 16
	reserved     [3]uint8 // offset 17
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}
